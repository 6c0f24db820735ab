package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

// ErrUnknownSymbol is returned for a record whose ticker has no symbol row.
var ErrUnknownSymbol = fmt.Errorf("%w: unknown symbol", ErrMalformed)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}

// resolveSid returns sid when set, otherwise the sid stored for ticker.
func resolveSid(ctx context.Context, conn *db.Conn, sid int64, ticker string) (int64, error) {
	if sid != 0 {
		return sid, nil
	}
	if ticker == "" {
		return 0, malformed("record has neither sid nor ticker")
	}
	sym, err := conn.GetSymbol(ctx, ticker)
	if errors.Is(err, db.ErrNotFound) {
		return 0, fmt.Errorf("%s: %w", ticker, ErrUnknownSymbol)
	}
	if err != nil {
		return 0, err
	}
	return sym.Sid, nil
}

func validBar(b models.Bar) error {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return malformed("invalid price %v", v)
		}
	}
	if b.High < b.Low {
		return malformed("high %v below low %v", b.High, b.Low)
	}
	if b.Volume < 0 {
		return malformed("negative volume %d", b.Volume)
	}
	return nil
}

// SymbolApplier inserts securities that are not yet known. Existing symbols
// are never modified. Sids are allocated from the current maximum, so runs
// must use a single worker.
type SymbolApplier struct {
	Now func() time.Time
}

func (SymbolApplier) Key(s models.Symbol) string { return s.Symbol }

func (a SymbolApplier) Apply(ctx context.Context, conn *db.Conn, s models.Symbol) (Action, error) {
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.Symbol == "" {
		return Skipped, malformed("symbol without ticker")
	}
	if s.SecType == "" {
		s.SecType = models.SecOther
	}
	_, inserted, err := conn.InsertSymbol(ctx, &s, clock(a.Now))
	if err != nil {
		return Skipped, err
	}
	if !inserted {
		return Skipped, nil
	}
	return Inserted, nil
}

// OverviewApplier replaces a company's overview and extended metrics and
// marks the symbol's overview as loaded.
type OverviewApplier struct {
	Now func() time.Time
}

func (OverviewApplier) Key(o models.CompanyOverview) string { return o.Overview.Symbol }

func (a OverviewApplier) Apply(ctx context.Context, conn *db.Conn, o models.CompanyOverview) (Action, error) {
	if o.Overview.Symbol == "" && o.Overview.Sid == 0 {
		return Skipped, malformed("overview without symbol")
	}
	if o.Overview.Name == "" {
		return Skipped, malformed("overview %s without name", o.Overview.Symbol)
	}
	sid, err := resolveSid(ctx, conn, o.Overview.Sid, o.Overview.Symbol)
	if err != nil {
		return Skipped, err
	}
	o.Overview.Sid = sid
	o.Ext.Sid = sid

	now := clock(a.Now)
	inserted, err := conn.UpsertOverview(ctx, &o.Overview, now)
	if err != nil {
		return Skipped, err
	}
	if _, err := conn.UpsertOverviewExt(ctx, &o.Ext, now); err != nil {
		return Skipped, err
	}
	if _, err := conn.SetSymbolFlag(ctx, sid, models.FlagOverview, now); err != nil {
		return Skipped, err
	}
	if inserted {
		return Inserted, nil
	}
	return Updated, nil
}

// IntradayApplier stores intraday bars, first write wins. With
// OpenBarUpdate a stored bar whose interval has not elapsed yet is refreshed
// instead of skipped.
type IntradayApplier struct {
	Policy   models.OpenBarPolicy
	Interval time.Duration
	Now      func() time.Time
}

func (IntradayApplier) Key(p models.IntradayPrice) string { return p.Symbol }

func (a IntradayApplier) Apply(ctx context.Context, conn *db.Conn, p models.IntradayPrice) (Action, error) {
	if p.Timestamp.IsZero() {
		return Skipped, malformed("intraday bar %s without timestamp", p.Symbol)
	}
	if err := validBar(p.Bar); err != nil {
		return Skipped, err
	}
	sid, err := resolveSid(ctx, conn, p.Sid, p.Symbol)
	if err != nil {
		return Skipped, err
	}
	p.Sid = sid

	inserted, err := conn.InsertIntraday(ctx, &p)
	if err != nil {
		return Skipped, err
	}
	now := clock(a.Now)
	if inserted {
		if _, err := conn.SetSymbolFlag(ctx, sid, models.FlagIntraday, now); err != nil {
			return Skipped, err
		}
		return Inserted, nil
	}

	if a.Policy == models.OpenBarUpdate && a.isOpen(p.Timestamp, now) {
		updated, err := conn.UpdateOpenBar(ctx, &p)
		if err != nil {
			return Skipped, err
		}
		if updated {
			return Updated, nil
		}
	}
	return Skipped, nil
}

// isOpen reports whether the bar starting at ts is still being formed.
func (a IntradayApplier) isOpen(ts, now time.Time) bool {
	interval := a.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return now.Before(ts.Add(interval))
}

// SummaryApplier stores daily bars, first write wins.
type SummaryApplier struct {
	Now func() time.Time
}

func (SummaryApplier) Key(p models.SummaryPrice) string { return p.Symbol }

func (a SummaryApplier) Apply(ctx context.Context, conn *db.Conn, p models.SummaryPrice) (Action, error) {
	if p.Date.IsZero() {
		return Skipped, malformed("summary bar %s without date", p.Symbol)
	}
	if err := validBar(p.Bar); err != nil {
		return Skipped, err
	}
	sid, err := resolveSid(ctx, conn, p.Sid, p.Symbol)
	if err != nil {
		return Skipped, err
	}
	p.Sid = sid

	inserted, err := conn.InsertSummary(ctx, &p)
	if err != nil {
		return Skipped, err
	}
	if !inserted {
		return Skipped, nil
	}
	if _, err := conn.SetSymbolFlag(ctx, sid, models.FlagSummary, clock(a.Now)); err != nil {
		return Skipped, err
	}
	return Inserted, nil
}

// TopStatApplier stores daily top movers, at most one row per day, event
// type and security.
type TopStatApplier struct{}

func (TopStatApplier) Key(t models.TopStat) string {
	return t.Date.Format(time.DateOnly) + "|" + t.EventType + "|" + t.Symbol
}

func (TopStatApplier) Apply(ctx context.Context, conn *db.Conn, t models.TopStat) (Action, error) {
	switch t.EventType {
	case models.TopGainer, models.TopLoser, models.TopActive:
	default:
		return Skipped, malformed("unknown top stat type %q", t.EventType)
	}
	if t.Date.IsZero() {
		return Skipped, malformed("top stat %s without date", t.Symbol)
	}
	sid, err := resolveSid(ctx, conn, t.Sid, t.Symbol)
	if err != nil {
		return Skipped, err
	}
	t.Sid = sid

	inserted, err := conn.InsertTopStat(ctx, &t)
	if err != nil {
		return Skipped, err
	}
	if !inserted {
		return Skipped, nil
	}
	return Inserted, nil
}
