// Package reconcile merges fetched records into storage. Records are applied
// one transaction each by a pool of workers; every record of a given natural
// key goes to the same worker so workers never contend for a row.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"iter"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

var (
	// ErrDuplicate marks a record whose natural key is already stored.
	ErrDuplicate = errors.New("duplicate record")
	// ErrMalformed marks a record that fails validation.
	ErrMalformed = models.ErrMalformed
	// ErrSystemic aborts a run: storage failed for reasons unrelated to the
	// record itself.
	ErrSystemic = errors.New("systemic storage error")
)

// Action is what applying one record did.
type Action int

const (
	Inserted Action = iota
	Updated
	Skipped
)

// Applier merges records of one kind.
type Applier[T any] interface {
	// Key returns the natural key used to route the record to a worker.
	Key(rec T) string
	// Apply merges rec using conn, which is the record's transaction.
	Apply(ctx context.Context, conn *db.Conn, rec T) (Action, error)
}

type Options struct {
	Workers   int
	MaxErrors int // error messages kept in the report
	Logger    *slog.Logger
}

// Report counts per-record outcomes. Errors holds the first MaxErrors
// failure messages.
type Report struct {
	Inserted int      `yaml:"inserted"`
	Updated  int      `yaml:"updated"`
	Skipped  int      `yaml:"skipped"`
	Failed   int      `yaml:"failed"`
	Errors   []string `yaml:"errors,omitempty"`
}

// Total is the number of records accounted for.
func (r Report) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Failed
}

// Counts converts the report into the counts stored on a job.
func (r Report) Counts() db.ProcCounts {
	return db.ProcCounts{Inserted: r.Inserted, Updated: r.Updated, Skipped: r.Skipped, Failed: r.Failed}
}

// Merge adds o's counts and errors to r.
func (r *Report) Merge(o Report) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// tally is the report shared by the workers of one run.
type tally struct {
	mu        sync.Mutex
	report    Report
	maxErrors int
}

func (t *tally) add(a Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch a {
	case Inserted:
		t.report.Inserted++
	case Updated:
		t.report.Updated++
	case Skipped:
		t.report.Skipped++
	}
}

func (t *tally) fail(key string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Failed++
	if len(t.report.Errors) < t.maxErrors {
		t.report.Errors = append(t.report.Errors, fmt.Sprintf("%s: %v", key, err))
	}
}

func (t *tally) snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.report
	r.Errors = append([]string(nil), t.report.Errors...)
	return r
}

// Run drains seq and applies every record with ap. A malformed record or a
// foreign key failure is counted as failed and the run goes on; a unique
// conflict is counted as skipped. Any other storage error stops the run and
// is returned wrapped in ErrSystemic together with the partial report.
//
// An error yielded by seq stops the run as well. Errors wrapping
// ErrMalformed are the exception: they are counted as failed records.
//
// Cancelling ctx stops dispatch; records already handed to a worker are
// committed or rolled back in full.
func Run[T any](ctx context.Context, database *db.DB, seq iter.Seq2[T, error], ap Applier[T], opts Options) (Report, error) {
	workers := max(opts.Workers, 1)
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 50
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &tally{maxErrors: opts.MaxErrors}
	g, gctx := errgroup.WithContext(ctx)

	queues := make([]chan T, workers)
	for i := range queues {
		queues[i] = make(chan T, 16)
	}

	for i := range queues {
		id := i
		g.Go(func() error {
			return work(gctx, database, queues[id], ap, t, logger.With("worker_id", id))
		})
	}

	var seqErr error
	func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for rec, err := range seq {
			if err != nil {
				if errors.Is(err, ErrMalformed) {
					logger.Warn("malformed record from source", "error", err)
					t.fail("source", err)
					continue
				}
				seqErr = err
				return
			}
			select {
			case queues[partition(ap.Key(rec), workers)] <- rec:
			case <-gctx.Done():
				return
			}
		}
	}()

	err := g.Wait()
	report := t.snapshot()
	switch {
	case err != nil:
		return report, err
	case seqErr != nil:
		return report, seqErr
	case ctx.Err() != nil:
		return report, ctx.Err()
	}
	return report, nil
}

func work[T any](ctx context.Context, database *db.DB, queue <-chan T, ap Applier[T], t *tally, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-queue:
			if !ok {
				return nil
			}
			if err := applyOne(ctx, database, rec, ap, t, logger); err != nil {
				return err
			}
		}
	}
}

func applyOne[T any](ctx context.Context, database *db.DB, rec T, ap Applier[T], t *tally, logger *slog.Logger) error {
	key := ap.Key(rec)

	// A record that reached a worker is finished even if the run is cancelled
	txCtx := context.WithoutCancel(ctx)

	var action Action
	err := database.RunTx(txCtx, func(conn *db.Conn) error {
		var err error
		action, err = ap.Apply(txCtx, conn, rec)
		return err
	})

	switch {
	case err == nil:
		t.add(action)
		logger.Debug("record applied", "key", key, "action", action.String())
	case errors.Is(err, ErrDuplicate) || db.IsUniqueViolation(err):
		t.add(Skipped)
		logger.Debug("record skipped", "key", key, "error", err)
	case errors.Is(err, ErrMalformed) || db.IsForeignKeyViolation(err):
		t.fail(key, err)
		logger.Warn("record failed", "key", key, "error", err)
	default:
		logger.Error("storage failure", "key", key, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrSystemic, key, err)
	}
	return nil
}

func partition(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (a Action) String() string {
	switch a {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}
