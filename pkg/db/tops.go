package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dtnitsch/mktdata-loader/models"
)

// InsertTopStat stores a top-mover entry unless one already exists for the
// same day, event type and security.
func (c *Conn) InsertTopStat(ctx context.Context, t *models.TopStat) (inserted bool, err error) {
	var id int64
	err = c.QueryRow(ctx, `
		INSERT INTO topstats (date, event_type, sid, symbol, price, change_val, change_pct, volume, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, event_type, sid) DO NOTHING
		RETURNING eventid
	`, models.Day(t.Date), t.EventType, t.Sid, t.Symbol, t.Price, t.ChangeVal, t.ChangePct,
		t.Volume, t.LastUpdated.UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert top stat %s/%s: %w", t.EventType, t.Symbol, err)
	}
	return true, nil
}
