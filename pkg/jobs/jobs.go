// Package jobs tracks the lifecycle of load jobs in the procstates table and
// keeps two runs of the same job type from overlapping.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

var (
	// ErrInvalidJobState covers double completion, unknown handles and
	// attempts to start a job while another run of its type is open.
	ErrInvalidJobState = errors.New("invalid job state")
	// ErrJobActive is returned by Begin when a run of the type is open.
	ErrJobActive = fmt.Errorf("%w: job already active", ErrInvalidJobState)
)

// Notes written when the orchestrator closes a job on its own.
const (
	NoteStale     = "stale"
	NoteRecovered = "recovered: stale"
	NoteCancelled = "cancelled"
)

// OnActive decides what Begin does when a run of the same type is open.
type OnActive int

const (
	// Skip returns ErrJobActive.
	Skip OnActive = iota
	// Wait polls until the open run closes or ctx ends.
	Wait
	// ForceStale closes open runs older than StaleAfter as failed, then
	// begins. A younger open run still yields ErrJobActive.
	ForceStale
)

// ParseOnActive maps a config or flag value onto an OnActive policy.
func ParseOnActive(s string) (OnActive, error) {
	switch s {
	case "", "skip":
		return Skip, nil
	case "wait":
		return Wait, nil
	case "force-stale", "force":
		return ForceStale, nil
	}
	return Skip, fmt.Errorf("unknown on-active policy %q", s)
}

type Options struct {
	OnActive     OnActive
	StaleAfter   time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Orchestrator begins and closes jobs. All coordination goes through
// storage, so independent processes sharing a database see each other.
type Orchestrator struct {
	db   *db.DB
	opts Options
}

func New(database *db.DB, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 6 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{db: database, opts: opts}
}

// Handle identifies one open job. Token guards against closing a row that
// was recovered and reopened by someone else.
type Handle struct {
	Spid     int64
	ProcType models.ProcType
	Token    string
	Started  time.Time
}

// Outcome is the terminal result recorded by Complete.
type Outcome struct {
	State  models.JobState
	Note   string
	Counts db.ProcCounts
}

func Succeeded(counts db.ProcCounts) Outcome {
	return Outcome{State: models.StateSuccess, Counts: counts}
}

func Failed(note string, counts db.ProcCounts) Outcome {
	return Outcome{State: models.StateFailed, Note: note, Counts: counts}
}

// Begin opens a job of procType, applying the OnActive policy when a run of
// the same type is already open.
func (o *Orchestrator) Begin(ctx context.Context, procType models.ProcType) (*Handle, error) {
	if !procType.Valid() {
		return nil, fmt.Errorf("unknown proc type %q: %w", procType, ErrInvalidJobState)
	}
	procID, err := o.db.Conn().ProcTypeID(ctx, procType)
	if err != nil {
		return nil, err
	}

	for {
		h, err := o.tryBegin(ctx, procType, procID)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrJobActive) {
			return nil, err
		}

		switch o.opts.OnActive {
		case ForceStale:
			closed, err := o.closeStale(ctx, procType, o.opts.StaleAfter, NoteStale)
			if err != nil {
				return nil, err
			}
			if len(closed) == 0 {
				return nil, fmt.Errorf("%s: %w", procType, ErrJobActive)
			}
			return o.tryBegin(ctx, procType, procID)
		case Wait:
			o.opts.Logger.Info("waiting for active job", "proc_type", procType)
			t := time.NewTimer(o.opts.PollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("waiting for %s: %w", procType, ctx.Err())
			case <-t.C:
			}
		default:
			return nil, fmt.Errorf("%s: %w", procType, ErrJobActive)
		}
	}
}

func (o *Orchestrator) tryBegin(ctx context.Context, procType models.ProcType, procID int64) (*Handle, error) {
	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job token: %w", err)
	}
	start := o.opts.Now().UTC()

	spid, ok, err := o.db.Conn().BeginProcState(ctx, procID, token.String(), start)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobActive
	}

	o.opts.Logger.Info("job started", "proc_type", procType, "spid", spid)
	return &Handle{Spid: spid, ProcType: procType, Token: token.String(), Started: start}, nil
}

// Complete closes the job behind h. It succeeds exactly once per handle.
func (o *Orchestrator) Complete(ctx context.Context, h *Handle, out Outcome) error {
	if h == nil || h.Spid == 0 || h.Token == "" {
		return fmt.Errorf("unknown job handle: %w", ErrInvalidJobState)
	}
	if out.State != models.StateSuccess && out.State != models.StateFailed {
		return fmt.Errorf("terminal state %s: %w", out.State, ErrInvalidJobState)
	}

	closed, err := o.db.Conn().CloseProcState(ctx, h.Spid, h.Token, out.State, o.opts.Now(), out.Note, out.Counts)
	if err != nil {
		return err
	}
	if !closed {
		return fmt.Errorf("job %d is not open: %w", h.Spid, ErrInvalidJobState)
	}

	o.opts.Logger.Info("job finished",
		"proc_type", h.ProcType,
		"spid", h.Spid,
		"state", out.State.String(),
		"inserted", out.Counts.Inserted,
		"updated", out.Counts.Updated,
		"skipped", out.Counts.Skipped,
		"failed", out.Counts.Failed,
		"note", out.Note)
	return nil
}

// ListActive returns the open runs of procType.
func (o *Orchestrator) ListActive(ctx context.Context, procType models.ProcType) ([]models.ProcState, error) {
	return o.db.Conn().ListProcStates(ctx, db.ProcStateFilter{ProcType: procType, ActiveOnly: true})
}

// Recover closes open runs started longer than staleAfter ago as failed.
// An empty procType recovers every type. It returns the closed runs.
func (o *Orchestrator) Recover(ctx context.Context, procType models.ProcType, staleAfter time.Duration) ([]models.ProcState, error) {
	return o.closeStale(ctx, procType, staleAfter, NoteRecovered)
}

func (o *Orchestrator) closeStale(ctx context.Context, procType models.ProcType, staleAfter time.Duration, note string) ([]models.ProcState, error) {
	active, err := o.ListActive(ctx, procType)
	if err != nil {
		return nil, err
	}

	now := o.opts.Now()
	var closed []models.ProcState
	for _, p := range active {
		if now.Sub(p.StartTime) <= staleAfter {
			continue
		}
		ok, err := o.db.Conn().CloseProcState(ctx, p.Spid, p.Token, models.StateFailed, now,
			note, db.ProcCounts{Inserted: p.Inserted, Updated: p.Updated, Skipped: p.Skipped, Failed: p.Failed})
		if err != nil {
			return closed, err
		}
		if !ok {
			// Closed by its owner in the meantime
			continue
		}
		o.opts.Logger.Warn("closed stale job", "proc_type", p.ProcType, "spid", p.Spid, "started", p.StartTime, "note", note)
		p.EndState = models.StateFailed
		p.EndTime = now.UTC()
		p.Note = note
		closed = append(closed, p)
	}
	return closed, nil
}

func (o *Orchestrator) Get(ctx context.Context, spid int64) (*models.ProcState, error) {
	return o.db.Conn().GetProcState(ctx, spid)
}

func (o *Orchestrator) List(ctx context.Context, f db.ProcStateFilter) ([]models.ProcState, error) {
	return o.db.Conn().ListProcStates(ctx, f)
}

// Run begins a job, runs fn and closes the job with fn's counts. A cancelled
// ctx closes the job failed with NoteCancelled; any other error from fn closes
// it failed with the error text.
func (o *Orchestrator) Run(ctx context.Context, procType models.ProcType, fn func(ctx context.Context, h *Handle) (db.ProcCounts, error)) (db.ProcCounts, error) {
	h, err := o.Begin(ctx, procType)
	if err != nil {
		return db.ProcCounts{}, err
	}

	counts, runErr := fn(ctx, h)

	var out Outcome
	switch {
	case ctx.Err() != nil:
		out = Failed(NoteCancelled, counts)
		if runErr == nil {
			runErr = ctx.Err()
		}
	case runErr != nil:
		out = Failed(runErr.Error(), counts)
	default:
		out = Succeeded(counts)
	}

	// The job row is closed even when ctx is already cancelled
	if err := o.Complete(context.WithoutCancel(ctx), h, out); err != nil {
		return counts, errors.Join(runErr, err)
	}
	return counts, runErr
}
