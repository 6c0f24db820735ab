package common

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/mktdata-loader/models"
)

// NewLogger builds the JSON logger used by every action. --quiet wins over
// --verbose.
func NewLogger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	switch {
	case c.Bool("quiet"):
		logLevel = slog.LevelError
	case c.Bool("verbose"):
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig reads the --config file (if any) and applies flag and
// environment overrides on top.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("db") {
		cfg.Database.DSN = c.String("db")
	}
	if c.IsSet("driver") {
		cfg.Database.Driver = c.String("driver")
	}
	if c.IsSet("api-key") {
		cfg.Provider.APIKey = c.String("api-key")
	}
	if c.IsSet("workers") {
		cfg.WorkerCount = c.Int("workers")
	}
	if c.IsSet("on-active") {
		cfg.Jobs.OnActive = c.String("on-active")
	}
	if c.IsSet("open-bar-policy") {
		cfg.Intraday.OpenBarPolicy = models.OpenBarPolicy(c.String("open-bar-policy"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)

// SanitizeTicker performs basic cleanup on a ticker from a flag or listing:
// whitespace, quotes and a leading "$" are removed and letters upper-cased.
func SanitizeTicker(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.Trim(cleaned, `"'`)
	cleaned = strings.TrimPrefix(cleaned, "$")
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

// SanitizeAndValidateTickers returns (sanitized tickers, invalid inputs).
// Duplicates are dropped, keeping the first occurrence.
func SanitizeAndValidateTickers(tickers []string) ([]string, []string) {
	sanitized := make([]string, 0, len(tickers))
	var invalid []string
	seen := make(map[string]bool, len(tickers))

	for _, raw := range tickers {
		cleaned := SanitizeTicker(raw)
		if !tickerPattern.MatchString(cleaned) {
			invalid = append(invalid, raw)
			continue
		}
		if seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		sanitized = append(sanitized, cleaned)
	}
	return sanitized, invalid
}

// SplitList splits a comma separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// listingColumns are the header names accepted for the ticker column of a
// listing file, compared case-insensitively with spaces removed.
var listingColumns = []string{"symbol", "actsymbol", "ticker"}

// Header names of the provider's digital currency list ("currency code,
// currency name").
var (
	digitalCodeColumns = []string{"currencycode", "code", "symbol"}
	digitalNameColumns = []string{"currencyname", "name"}
)

// ReadListing reads tickers from a CSV listing file. The first row is a
// header and must contain a symbol column.
func ReadListing(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing %s: %w", path, err)
	}
	defer f.Close()
	return parseListing(f)
}

func parseListing(r io.Reader) ([]string, error) {
	cr, header, err := openListing(r)
	if err != nil {
		return nil, err
	}
	col := findColumn(header, listingColumns)
	if col < 0 {
		return nil, fmt.Errorf("listing has no symbol column (header %v)", header)
	}

	var tickers []string
	err = eachRow(cr, func(row []string) {
		if v := cell(row, col); v != "" {
			tickers = append(tickers, v)
		}
	})
	return tickers, err
}

// ReadDigitalListing reads a digital currency list into Crypto symbols.
// Codes that do not form a valid ticker are returned as invalid.
func ReadDigitalListing(path string) (symbols []models.Symbol, invalid []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open digital listing %s: %w", path, err)
	}
	defer f.Close()
	return parseDigitalListing(f)
}

func parseDigitalListing(r io.Reader) ([]models.Symbol, []string, error) {
	cr, header, err := openListing(r)
	if err != nil {
		return nil, nil, err
	}
	codeCol := findColumn(header, digitalCodeColumns)
	nameCol := findColumn(header, digitalNameColumns)
	if codeCol < 0 || nameCol < 0 {
		return nil, nil, fmt.Errorf("digital listing needs code and name columns (header %v)", header)
	}

	var symbols []models.Symbol
	var invalid []string
	err = eachRow(cr, func(row []string) {
		raw := cell(row, codeCol)
		if raw == "" {
			return
		}
		code := SanitizeTicker(raw)
		if !tickerPattern.MatchString(code) {
			invalid = append(invalid, raw)
			return
		}
		symbols = append(symbols, models.DigitalSymbol(code, cell(row, nameCol)))
	})
	return symbols, invalid, err
}

func openListing(r io.Reader) (*csv.Reader, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("listing is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read listing header: %w", err)
	}
	return cr, header, nil
}

// findColumn returns the index of the first header matching one of names,
// or -1.
func findColumn(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(h, "\ufeff"), " ", ""))
		for _, want := range names {
			if h == want {
				return i
			}
		}
	}
	return -1
}

func eachRow(cr *csv.Reader, fn func(row []string)) error {
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read listing: %w", err)
		}
		fn(row)
	}
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
