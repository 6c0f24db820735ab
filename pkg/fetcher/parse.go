package fetcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dtnitsch/mktdata-loader/models"
)

// Placeholders the provider uses for a missing value.
func isBlank(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "None", "-", "null", "N/A":
		return true
	}
	return false
}

// parseFloat reads a provider number. Values arrive as decimal strings and
// are parsed exactly before conversion. Blank values are zero.
func parseFloat(field, s string) (float64, error) {
	if isBlank(s) {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", models.ErrMalformed, field, s, err)
	}
	return d.InexactFloat64(), nil
}

// parseInt reads a provider integer, truncating any fractional part.
func parseInt(field, s string) (int64, error) {
	if isBlank(s) {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", models.ErrMalformed, field, s, err)
	}
	return d.IntPart(), nil
}

func parseDate(field, s string) (time.Time, error) {
	if isBlank(s) {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %v", models.ErrMalformed, field, s, err)
	}
	return t, nil
}

// numberParser collects the first error over a series of field parses so
// record builders can read like a list of assignments.
type numberParser struct {
	err error
}

func (p *numberParser) float(field, s string) float64 {
	v, err := parseFloat(field, s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *numberParser) int(field, s string) int64 {
	v, err := parseInt(field, s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *numberParser) date(field, s string) time.Time {
	v, err := parseDate(field, s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

// parseLastUpdated reads the top movers stamp, "2023-10-03 16:15:59 US/Eastern".
// The zone suffix is ignored.
func parseLastUpdated(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, ' '); i > len(time.DateOnly) {
		s = s[:i]
	}
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: last_updated %q: %v", models.ErrMalformed, s, err)
	}
	return t, nil
}

var regionNames = map[string]string{
	"United States":    "USA",
	"United Kingdom":   "UK",
	"Frankfurt":        "Frank",
	"Toronto Venture":  "TOR",
	"India/Bombay":     "Bomb",
	"Brazil/Sao Paolo": "SaoP",
}

// normalizeRegion shortens the provider's long region names.
func normalizeRegion(region string) string {
	if short, ok := regionNames[region]; ok {
		return short
	}
	return region
}
