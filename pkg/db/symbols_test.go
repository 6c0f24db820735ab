package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

func TestInsertSymbol(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	conn := db.Conn()
	now := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		symbol       models.Symbol
		wantSid      int64
		wantInserted bool
	}{
		{
			name:         "first equity",
			symbol:       models.Symbol{Symbol: "AAPL", Name: "Apple Inc", SecType: models.SecEquity},
			wantSid:      models.EncodeSID(models.SecEquity, 1),
			wantInserted: true,
		},
		{
			name:         "second equity",
			symbol:       models.Symbol{Symbol: "MSFT", Name: "Microsoft", SecType: models.SecEquity},
			wantSid:      models.EncodeSID(models.SecEquity, 2),
			wantInserted: true,
		},
		{
			name:         "first etf has its own sequence",
			symbol:       models.Symbol{Symbol: "SPY", Name: "SPDR S&P 500", SecType: models.SecETF},
			wantSid:      models.EncodeSID(models.SecETF, 1),
			wantInserted: true,
		},
		{
			name:         "existing ticker keeps sid",
			symbol:       models.Symbol{Symbol: "AAPL", Name: "Apple Renamed", SecType: models.SecEquity},
			wantSid:      models.EncodeSID(models.SecEquity, 1),
			wantInserted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sid, inserted, err := conn.InsertSymbol(ctx, &tt.symbol, now)
			if err != nil {
				t.Fatalf("InsertSymbol() error = %v", err)
			}
			if sid != tt.wantSid {
				t.Errorf("InsertSymbol() sid = %d, want %d", sid, tt.wantSid)
			}
			if inserted != tt.wantInserted {
				t.Errorf("InsertSymbol() inserted = %v, want %v", inserted, tt.wantInserted)
			}
		})
	}

	got, err := conn.GetSymbol(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetSymbol() error = %v", err)
	}
	if got.Name != "Apple Inc" {
		t.Errorf("GetSymbol().Name = %q, want original name kept", got.Name)
	}
}

func TestGetSymbol_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.Conn().GetSymbol(context.Background(), "NOPE")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSymbol() error = %v, want ErrNotFound", err)
	}
}

func TestSetSymbolFlag_OnlySetsTrue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	conn := db.Conn()
	now := time.Now()

	sid, _, err := conn.InsertSymbol(ctx, &models.Symbol{Symbol: "IBM", SecType: models.SecEquity}, now)
	if err != nil {
		t.Fatalf("InsertSymbol() error = %v", err)
	}
	if _, _, err := conn.InsertSymbol(ctx, &models.Symbol{Symbol: "KO", SecType: models.SecEquity}, now); err != nil {
		t.Fatalf("InsertSymbol() error = %v", err)
	}

	changed, err := conn.SetSymbolFlag(ctx, sid, models.FlagOverview, now)
	if err != nil {
		t.Fatalf("SetSymbolFlag() error = %v", err)
	}
	if !changed {
		t.Error("first SetSymbolFlag() changed = false, want true")
	}

	changed, err = conn.SetSymbolFlag(ctx, sid, models.FlagOverview, now)
	if err != nil {
		t.Fatalf("SetSymbolFlag() error = %v", err)
	}
	if changed {
		t.Error("second SetSymbolFlag() changed = true, want false")
	}

	missing, err := conn.ListSymbols(ctx, models.FlagOverview)
	if err != nil {
		t.Fatalf("ListSymbols() error = %v", err)
	}
	if len(missing) != 1 || missing[0].Symbol != "KO" {
		t.Errorf("ListSymbols(missing overview) = %+v, want only KO", missing)
	}

	if _, err := conn.SetSymbolFlag(ctx, sid, models.SymbolFlag("bogus"), now); err == nil {
		t.Error("SetSymbolFlag() with unknown flag should fail")
	}
}

func TestSymbolIndex(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	conn := db.Conn()

	for _, s := range []string{"A", "B", "C"} {
		if _, _, err := conn.InsertSymbol(ctx, &models.Symbol{Symbol: s, SecType: models.SecEquity}, time.Now()); err != nil {
			t.Fatalf("InsertSymbol(%s) error = %v", s, err)
		}
	}

	index, err := conn.SymbolIndex(ctx)
	if err != nil {
		t.Fatalf("SymbolIndex() error = %v", err)
	}
	if len(index) != 3 {
		t.Errorf("SymbolIndex() has %d entries, want 3", len(index))
	}
	if index["B"] != models.EncodeSID(models.SecEquity, 2) {
		t.Errorf("SymbolIndex()[B] = %d, want %d", index["B"], models.EncodeSID(models.SecEquity, 2))
	}
}
