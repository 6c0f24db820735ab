package db

import (
	"context"
	"testing"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

func TestBeginProcState_OneOpenPerType(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	conn := db.Conn()

	procID, err := conn.ProcTypeID(ctx, models.ProcLoadNews)
	if err != nil {
		t.Fatalf("ProcTypeID() error = %v", err)
	}
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	spid, ok, err := conn.BeginProcState(ctx, procID, "tok-1", start)
	if err != nil || !ok {
		t.Fatalf("BeginProcState() = %v, %v; want ok", ok, err)
	}

	_, ok, err = conn.BeginProcState(ctx, procID, "tok-2", start)
	if err != nil {
		t.Fatalf("BeginProcState() second error = %v", err)
	}
	if ok {
		t.Fatal("BeginProcState() second ok = true while first is open")
	}

	// Another type is unaffected
	otherID, _ := conn.ProcTypeID(ctx, models.ProcLoadTops)
	if _, ok, err := conn.BeginProcState(ctx, otherID, "tok-3", start); err != nil || !ok {
		t.Fatalf("BeginProcState(other type) = %v, %v; want ok", ok, err)
	}

	closed, err := conn.CloseProcState(ctx, spid, "wrong", models.StateSuccess, start.Add(time.Minute), "", ProcCounts{})
	if err != nil || closed {
		t.Fatalf("CloseProcState(wrong token) = %v, %v; want false, nil", closed, err)
	}

	counts := ProcCounts{Inserted: 3, Updated: 1, Skipped: 2, Failed: 0}
	closed, err = conn.CloseProcState(ctx, spid, "tok-1", models.StateSuccess, start.Add(time.Minute), "done", counts)
	if err != nil || !closed {
		t.Fatalf("CloseProcState() = %v, %v; want true, nil", closed, err)
	}

	closed, err = conn.CloseProcState(ctx, spid, "tok-1", models.StateFailed, start.Add(2*time.Minute), "again", ProcCounts{})
	if err != nil || closed {
		t.Fatalf("CloseProcState() twice = %v, %v; want false, nil", closed, err)
	}

	got, err := conn.GetProcState(ctx, spid)
	if err != nil {
		t.Fatalf("GetProcState() error = %v", err)
	}
	if got.EndState != models.StateSuccess || got.Note != "done" || got.Inserted != 3 || got.Skipped != 2 {
		t.Errorf("GetProcState() = %+v, want first close preserved", got)
	}
	if !got.EndTime.Equal(start.Add(time.Minute)) {
		t.Errorf("EndTime = %v, want %v", got.EndTime, start.Add(time.Minute))
	}

	// The lock is released once closed
	if _, ok, err := conn.BeginProcState(ctx, procID, "tok-4", start.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("BeginProcState() after close = %v, %v; want ok", ok, err)
	}
}

func TestListProcStates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	conn := db.Conn()

	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	for i, pt := range []models.ProcType{models.ProcLoadNews, models.ProcLoadTops, models.ProcLoadIntraday} {
		id, _ := conn.ProcTypeID(ctx, pt)
		spid, _, err := conn.BeginProcState(ctx, id, "tok", start.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("BeginProcState() error = %v", err)
		}
		if pt == models.ProcLoadTops {
			if _, err := conn.CloseProcState(ctx, spid, "tok", models.StateFailed, start, "x", ProcCounts{}); err != nil {
				t.Fatalf("CloseProcState() error = %v", err)
			}
		}
	}

	tests := []struct {
		name   string
		filter ProcStateFilter
		want   int
	}{
		{"all", ProcStateFilter{}, 3},
		{"active", ProcStateFilter{ActiveOnly: true}, 2},
		{"by type", ProcStateFilter{ProcType: models.ProcLoadNews}, 1},
		{"limit", ProcStateFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := conn.ListProcStates(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListProcStates() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ListProcStates() len = %d, want %d", len(got), tt.want)
			}
		})
	}

	newest, _ := conn.ListProcStates(ctx, ProcStateFilter{Limit: 1})
	if len(newest) == 1 && newest[0].ProcType != models.ProcLoadIntraday {
		t.Errorf("newest job = %s, want %s", newest[0].ProcType, models.ProcLoadIntraday)
	}
}
