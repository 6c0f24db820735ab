package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// openShared opens two independent handles on one database file, the way
// two loader processes would.
func openShared(t *testing.T) (*db.DB, *db.DB) {
	t.Helper()
	cfg := models.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "mdl.db")}
	handles := make([]*db.DB, 2)
	for i := range handles {
		database, err := db.Open(cfg)
		if err != nil {
			t.Fatalf("Open() handle %d error = %v", i, err)
		}
		t.Cleanup(func() { _ = database.Close() })
		handles[i] = database
	}
	return handles[0], handles[1]
}

// clock is a settable time source for staleness tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBeginComplete(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{})
	ctx := context.Background()

	h, err := o.Begin(ctx, models.ProcLoadIntraday)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if h.Spid == 0 || h.Token == "" {
		t.Fatalf("Begin() handle = %+v, want spid and token", h)
	}

	active, err := o.ListActive(ctx, models.ProcLoadIntraday)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 || active[0].Spid != h.Spid {
		t.Fatalf("ListActive() = %+v, want the started job", active)
	}

	counts := db.ProcCounts{Inserted: 10, Skipped: 2}
	if err := o.Complete(ctx, h, Succeeded(counts)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got, err := o.Get(ctx, h.Spid)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.EndState != models.StateSuccess || got.Inserted != 10 || got.Skipped != 2 || got.EndTime.IsZero() {
		t.Errorf("Get() = %+v, want closed success with counts", got)
	}

	active, _ = o.ListActive(ctx, models.ProcLoadIntraday)
	if len(active) != 0 {
		t.Errorf("ListActive() after complete = %d jobs, want 0", len(active))
	}
}

func TestComplete_InvalidState(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{})
	ctx := context.Background()

	h, err := o.Begin(ctx, models.ProcLoadTops)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := o.Complete(ctx, h, Failed("boom", db.ProcCounts{})); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	tests := []struct {
		name   string
		handle *Handle
		out    Outcome
	}{
		{"twice", h, Succeeded(db.ProcCounts{})},
		{"nil handle", nil, Succeeded(db.ProcCounts{})},
		{"unknown spid", &Handle{Spid: 9999, Token: "x"}, Succeeded(db.ProcCounts{})},
		{"running is not terminal", h, Outcome{State: models.StateRunning}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Complete(ctx, tt.handle, tt.out)
			if !errors.Is(err, ErrInvalidJobState) {
				t.Errorf("Complete() error = %v, want ErrInvalidJobState", err)
			}
		})
	}

	got, _ := o.Get(ctx, h.Spid)
	if got.EndState != models.StateFailed || got.Note != "boom" {
		t.Errorf("closed job changed after second Complete(): %+v", got)
	}
}

func TestBegin_UnknownType(t *testing.T) {
	o := New(setupTestDB(t), Options{})
	_, err := o.Begin(context.Background(), models.ProcType("load_everything"))
	if !errors.Is(err, ErrInvalidJobState) {
		t.Errorf("Begin() error = %v, want ErrInvalidJobState", err)
	}
}

func TestBegin_ConcurrentExactlyOne(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{OnActive: Skip})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = o.Begin(ctx, models.ProcLoadNews)
		}(i)
	}
	wg.Wait()

	started := 0
	for i := 0; i < n; i++ {
		switch {
		case errs[i] == nil:
			started++
		case !errors.Is(errs[i], ErrJobActive):
			t.Errorf("Begin() unexpected error = %v", errs[i])
		}
	}
	if started != 1 {
		t.Errorf("%d jobs started concurrently, want exactly 1", started)
	}

	active, err := o.ListActive(ctx, models.ProcLoadNews)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ListActive() = %d, want 1", len(active))
	}
}

func TestBegin_SeparateHandles(t *testing.T) {
	first, second := openShared(t)
	orchs := []*Orchestrator{
		New(first, Options{OnActive: Skip}),
		New(second, Options{OnActive: Skip}),
	}
	ctx := context.Background()

	const perHandle = 4
	var wg sync.WaitGroup
	errs := make([]error, 2*perHandle)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orchs[i%2].Begin(ctx, models.ProcLoadIntraday)
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		switch {
		case err == nil:
			started++
		case !errors.Is(err, ErrJobActive):
			t.Errorf("Begin() unexpected error = %v", err)
		}
	}
	if started != 1 {
		t.Errorf("%d jobs started across handles, want exactly 1", started)
	}

	// Both handles see the same running job
	for i, o := range orchs {
		active, err := o.ListActive(ctx, models.ProcLoadIntraday)
		if err != nil {
			t.Fatalf("ListActive() on handle %d error = %v", i, err)
		}
		if len(active) != 1 {
			t.Errorf("ListActive() on handle %d = %d jobs, want 1", i, len(active))
		}
	}
}

func TestBegin_ForceStale(t *testing.T) {
	database := setupTestDB(t)
	clk := &clock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	o := New(database, Options{OnActive: ForceStale, StaleAfter: time.Hour, Now: clk.Now})
	ctx := context.Background()

	first, err := o.Begin(ctx, models.ProcLoadSummary)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	// Not stale yet
	clk.Advance(30 * time.Minute)
	if _, err := o.Begin(ctx, models.ProcLoadSummary); !errors.Is(err, ErrJobActive) {
		t.Fatalf("Begin() with young active job error = %v, want ErrJobActive", err)
	}

	clk.Advance(time.Hour)
	second, err := o.Begin(ctx, models.ProcLoadSummary)
	if err != nil {
		t.Fatalf("Begin() after stale error = %v", err)
	}
	if second.Spid == first.Spid {
		t.Fatal("Begin() reused the stale job")
	}

	old, _ := o.Get(ctx, first.Spid)
	if old.EndState != models.StateFailed || old.Note != NoteStale {
		t.Errorf("stale job = %+v, want failed with note %q", old, NoteStale)
	}

	// The original owner can no longer close it
	if err := o.Complete(ctx, first, Succeeded(db.ProcCounts{})); !errors.Is(err, ErrInvalidJobState) {
		t.Errorf("Complete() on force-closed job error = %v, want ErrInvalidJobState", err)
	}
}

func TestBegin_Wait(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{OnActive: Wait, PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	first, err := o.Begin(ctx, models.ProcLoadOverviews)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = o.Complete(context.Background(), first, Succeeded(db.ProcCounts{}))
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	second, err := o.Begin(waitCtx, models.ProcLoadOverviews)
	if err != nil {
		t.Fatalf("Begin() while waiting error = %v", err)
	}
	if second.Spid == first.Spid {
		t.Error("Begin() returned the finished job")
	}
}

func TestBegin_WaitCancelled(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{OnActive: Wait, PollInterval: 10 * time.Millisecond})

	if _, err := o.Begin(context.Background(), models.ProcLoadTops); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := o.Begin(ctx, models.ProcLoadTops); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Begin() error = %v, want deadline exceeded", err)
	}
}

func TestRecover_CrashedNewsJob(t *testing.T) {
	database := setupTestDB(t)
	clk := &clock{now: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	// A process begins load_news and dies without completing
	crashed := New(database, Options{Now: clk.Now})
	h, err := crashed.Begin(ctx, models.ProcLoadNews)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	clk.Advance(8 * time.Hour)
	o := New(database, Options{Now: clk.Now})

	if _, err := o.Begin(ctx, models.ProcLoadNews); !errors.Is(err, ErrJobActive) {
		t.Fatalf("Begin() before recovery error = %v, want ErrJobActive", err)
	}

	recovered, err := o.Recover(ctx, models.ProcLoadNews, 6*time.Hour)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(recovered) != 1 || recovered[0].Spid != h.Spid {
		t.Fatalf("Recover() = %+v, want the crashed job", recovered)
	}

	got, _ := o.Get(ctx, h.Spid)
	if got.EndState != models.StateFailed || got.Note != NoteRecovered {
		t.Errorf("recovered job = %+v, want failed with note %q", got, NoteRecovered)
	}

	if _, err := o.Begin(ctx, models.ProcLoadNews); err != nil {
		t.Errorf("Begin() after recovery error = %v", err)
	}
}

func TestRecover_LeavesFreshJobs(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{})
	ctx := context.Background()

	if _, err := o.Begin(ctx, models.ProcLoadIntraday); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	recovered, err := o.Recover(ctx, "", time.Hour)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(recovered) != 0 {
		t.Errorf("Recover() closed %d fresh jobs, want 0", len(recovered))
	}
}

func TestRun(t *testing.T) {
	database := setupTestDB(t)
	o := New(database, Options{})

	tests := []struct {
		name      string
		cancel    bool
		fnErr     error
		wantState models.JobState
		wantNote  string
	}{
		{"success", false, nil, models.StateSuccess, ""},
		{"fn error", false, errors.New("provider down"), models.StateFailed, "provider down"},
		{"cancelled", true, nil, models.StateFailed, NoteCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var spid int64
			counts, err := o.Run(ctx, models.ProcLoadSymbols, func(ctx context.Context, h *Handle) (db.ProcCounts, error) {
				spid = h.Spid
				if tt.cancel {
					cancel()
				}
				return db.ProcCounts{Inserted: 1}, tt.fnErr
			})
			if (err != nil) != (tt.wantState == models.StateFailed) {
				t.Errorf("Run() error = %v, want failure %v", err, tt.wantState == models.StateFailed)
			}
			if counts.Inserted != 1 {
				t.Errorf("Run() counts = %+v", counts)
			}

			got, err := o.Get(context.Background(), spid)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.EndState != tt.wantState || got.Note != tt.wantNote {
				t.Errorf("job = %s %q, want %s %q", got.EndState, got.Note, tt.wantState, tt.wantNote)
			}
			if got.Inserted != 1 {
				t.Errorf("job inserted = %d, want 1", got.Inserted)
			}
		})
	}
}

func TestParseOnActive(t *testing.T) {
	tests := []struct {
		in      string
		want    OnActive
		wantErr bool
	}{
		{"skip", Skip, false},
		{"", Skip, false},
		{"wait", Wait, false},
		{"force-stale", ForceStale, false},
		{"explode", Skip, true},
	}
	for _, tt := range tests {
		got, err := ParseOnActive(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOnActive(%q) = %v, %v", tt.in, got, err)
		}
	}
}
