package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

// InsertIntraday stores an intraday bar unless (tstamp, sid) already exists.
func (c *Conn) InsertIntraday(ctx context.Context, p *models.IntradayPrice) (inserted bool, err error) {
	var id int64
	err = c.QueryRow(ctx, `
		INSERT INTO intradayprices (tstamp, sid, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tstamp, sid) DO NOTHING
		RETURNING eventid
	`, p.Timestamp.UTC(), p.Sid, p.Symbol, p.Open, p.High, p.Low, p.Close, p.Volume).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert intraday bar %d@%s: %w", p.Sid, p.Timestamp.Format(time.RFC3339), err)
	}
	return true, nil
}

// UpdateOpenBar overwrites high, low, close and volume of a stored bar that
// belongs to a still-open interval. The open price is never changed.
func (c *Conn) UpdateOpenBar(ctx context.Context, p *models.IntradayPrice) (updated bool, err error) {
	res, err := c.Exec(ctx, `
		UPDATE intradayprices SET high = ?, low = ?, close = ?, volume = ?
		WHERE tstamp = ? AND sid = ?
			AND (high <> ? OR low <> ? OR close <> ? OR volume <> ?)
	`, p.High, p.Low, p.Close, p.Volume, p.Timestamp.UTC(), p.Sid,
		p.High, p.Low, p.Close, p.Volume)
	if err != nil {
		return false, fmt.Errorf("failed to update open bar %d: %w", p.Sid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestIntraday returns the timestamp of the newest stored bar for sid.
// ok is false when nothing is stored yet.
func (c *Conn) LatestIntraday(ctx context.Context, sid int64) (ts time.Time, ok bool, err error) {
	err = c.QueryRow(ctx,
		"SELECT tstamp FROM intradayprices WHERE sid = ? ORDER BY tstamp DESC LIMIT 1", sid).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest intraday bar for %d: %w", sid, err)
	}
	return ts.UTC(), true, nil
}

// GetIntraday loads one stored bar.
func (c *Conn) GetIntraday(ctx context.Context, sid int64, ts time.Time) (*models.IntradayPrice, error) {
	p := models.IntradayPrice{Sid: sid}
	err := c.QueryRow(ctx, `
		SELECT tstamp, symbol, open, high, low, close, volume
		FROM intradayprices WHERE tstamp = ? AND sid = ?
	`, ts.UTC(), sid).Scan(&p.Timestamp, &p.Symbol, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intraday bar %d: %w", sid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intraday bar %d: %w", sid, err)
	}
	p.Timestamp = p.Timestamp.UTC()
	return &p, nil
}

// InsertSummary stores a daily bar unless (date, sid) already exists.
func (c *Conn) InsertSummary(ctx context.Context, p *models.SummaryPrice) (inserted bool, err error) {
	var id int64
	err = c.QueryRow(ctx, `
		INSERT INTO summaryprices (date, sid, symbol, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, sid) DO NOTHING
		RETURNING eventid
	`, models.Day(p.Date), p.Sid, p.Symbol, p.Open, p.High, p.Low, p.Close, p.Volume).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert summary bar %d@%s: %w", p.Sid, p.Date.Format(time.DateOnly), err)
	}
	return true, nil
}

// Count runs a SELECT COUNT(*) query and returns the result.
func (c *Conn) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := c.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}
