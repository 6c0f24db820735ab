package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

// ErrNotFound is returned when a lookup by natural key finds no row.
var ErrNotFound = errors.New("not found")

const symbolColumns = `sid, symbol, name, sec_type, region, marketopen, marketclose,
	timezone, currency, overview, intraday, summary`

func scanSymbol(row interface{ Scan(...any) error }) (models.Symbol, error) {
	var s models.Symbol
	var secType string
	err := row.Scan(&s.Sid, &s.Symbol, &s.Name, &secType, &s.Region, &s.MarketOpen,
		&s.MarketClose, &s.Timezone, &s.Currency, &s.Overview, &s.Intraday, &s.Summary)
	s.SecType = models.SecurityType(secType)
	return s, err
}

// GetSymbol looks a symbol up by ticker.
func (c *Conn) GetSymbol(ctx context.Context, ticker string) (*models.Symbol, error) {
	row := c.QueryRow(ctx, "SELECT "+symbolColumns+" FROM symbols WHERE symbol = ?", ticker)
	s, err := scanSymbol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("symbol %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol %s: %w", ticker, err)
	}
	return &s, nil
}

// ListSymbols returns all symbols ordered by ticker. When missing is set, only
// symbols whose flag is still false are returned.
func (c *Conn) ListSymbols(ctx context.Context, missing models.SymbolFlag) ([]models.Symbol, error) {
	query := "SELECT " + symbolColumns + " FROM symbols"
	var args []any
	if missing != "" {
		col, err := flagColumn(missing)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + col + " = ?"
		args = append(args, false)
	}
	query += " ORDER BY symbol"

	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []models.Symbol
	for rows.Next() {
		s, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// SymbolIndex maps every ticker to its sid.
func (c *Conn) SymbolIndex(ctx context.Context) (map[string]int64, error) {
	rows, err := c.Query(ctx, "SELECT symbol, sid FROM symbols")
	if err != nil {
		return nil, fmt.Errorf("failed to load symbol index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	index := make(map[string]int64)
	for rows.Next() {
		var ticker string
		var sid int64
		if err := rows.Scan(&ticker, &sid); err != nil {
			return nil, fmt.Errorf("failed to scan symbol index: %w", err)
		}
		index[ticker] = sid
	}
	return index, rows.Err()
}

// NextSid returns the next unused sid for a security type.
func (c *Conn) NextSid(ctx context.Context, t models.SecurityType) (int64, error) {
	lo, hi := models.SIDRange(t)
	var maxSid sql.NullInt64
	err := c.QueryRow(ctx, "SELECT MAX(sid) FROM symbols WHERE sid >= ? AND sid <= ?", lo, hi).Scan(&maxSid)
	if err != nil {
		return 0, fmt.Errorf("failed to find max sid for %s: %w", t, err)
	}
	if !maxSid.Valid {
		return models.EncodeSID(t, 1), nil
	}
	_, seq, err := models.DecodeSID(maxSid.Int64)
	if err != nil {
		return 0, err
	}
	return models.EncodeSID(t, seq+1), nil
}

// InsertSymbol inserts s if its ticker is not yet known and returns the sid
// of the stored row. inserted is false when the ticker already existed; the
// existing row is left untouched.
func (c *Conn) InsertSymbol(ctx context.Context, s *models.Symbol, now time.Time) (sid int64, inserted bool, err error) {
	existing, err := c.GetSymbol(ctx, s.Symbol)
	if err == nil {
		return existing.Sid, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, false, err
	}

	sid, err = c.NextSid(ctx, s.SecType)
	if err != nil {
		return 0, false, err
	}

	now = now.UTC()
	err = c.QueryRow(ctx, `
		INSERT INTO symbols (sid, symbol, name, sec_type, region, marketopen, marketclose,
			timezone, currency, overview, intraday, summary, c_time, m_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol) DO NOTHING
		RETURNING sid
	`, sid, s.Symbol, s.Name, string(s.SecType), s.Region, s.MarketOpen, s.MarketClose,
		s.Timezone, s.Currency, false, false, false, now, now).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with another writer for the same ticker
		existing, err := c.GetSymbol(ctx, s.Symbol)
		if err != nil {
			return 0, false, err
		}
		return existing.Sid, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert symbol %s: %w", s.Symbol, err)
	}
	return sid, true, nil
}

// SetSymbolFlag marks a data domain as loaded for sid. Flags only move from
// false to true; changed reports whether this call flipped it.
func (c *Conn) SetSymbolFlag(ctx context.Context, sid int64, flag models.SymbolFlag, now time.Time) (changed bool, err error) {
	col, err := flagColumn(flag)
	if err != nil {
		return false, err
	}
	res, err := c.Exec(ctx,
		"UPDATE symbols SET "+col+" = ?, m_time = ? WHERE sid = ? AND "+col+" = ?",
		true, now.UTC(), sid, false)
	if err != nil {
		return false, fmt.Errorf("failed to set %s flag for sid %d: %w", col, sid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func flagColumn(flag models.SymbolFlag) (string, error) {
	switch flag {
	case models.FlagOverview, models.FlagIntraday, models.FlagSummary:
		return string(flag), nil
	}
	return "", fmt.Errorf("unknown symbol flag %q", flag)
}
