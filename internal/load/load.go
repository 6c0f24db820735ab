// Package load runs one ingestion job per call: it opens the job, streams
// provider records into the reconciler and closes the job with the counts.
package load

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
	"github.com/dtnitsch/mktdata-loader/pkg/fetcher"
	"github.com/dtnitsch/mktdata-loader/pkg/jobs"
	"github.com/dtnitsch/mktdata-loader/pkg/normalize"
	"github.com/dtnitsch/mktdata-loader/pkg/reconcile"
	"github.com/dtnitsch/mktdata-loader/pkg/relmap"
)

// ErrTooManyMisses fails a job whose provider calls kept coming back empty
// after retries.
var ErrTooManyMisses = errors.New("too many fetch misses")

// Loader wires the provider to storage.
type Loader struct {
	DB         *db.DB
	Fetcher    *fetcher.Fetcher
	Jobs       *jobs.Orchestrator
	Config     *models.Config
	Normalizer *normalize.Normalizer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Request selects the symbols a per-ticker load covers. Explicit Tickers win;
// otherwise MissingOnly restricts the load to symbols whose domain flag is
// still unset, and the default is every stored symbol.
type Request struct {
	Tickers     []string
	MissingOnly bool
}

// Result is what a load reports back to the caller.
type Result struct {
	ProcType models.ProcType  `yaml:"proc_type"`
	Targets  int              `yaml:"targets"`
	Misses   int              `yaml:"fetch_misses"`
	Report   reconcile.Report `yaml:"report"`
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Logger
}

func (l *Loader) options(workers int) reconcile.Options {
	return reconcile.Options{Workers: workers, Logger: l.logger()}
}

// run executes fn as a job of procType. fn fills res as it goes so partial
// counts are recorded when it fails.
func (l *Loader) run(ctx context.Context, procType models.ProcType, fn func(ctx context.Context, res *Result) error) (Result, error) {
	res := Result{ProcType: procType}
	_, err := l.Jobs.Run(ctx, procType, func(ctx context.Context, h *jobs.Handle) (db.ProcCounts, error) {
		logger := l.logger().With("proc_type", procType, "spid", h.Spid)
		logger.Info("job started")

		err := fn(ctx, &res)

		if err != nil {
			logger.Error("job failed", "error", err, "inserted", res.Report.Inserted, "failed", res.Report.Failed)
		} else {
			logger.Info("job finished",
				"records", res.Report.Total(),
				"inserted", res.Report.Inserted,
				"updated", res.Report.Updated,
				"skipped", res.Report.Skipped,
				"failed", res.Report.Failed,
				"fetch_misses", res.Misses,
			)
		}
		return res.Report.Counts(), err
	})
	return res, err
}

// targets resolves the symbols a per-ticker load covers.
func (l *Loader) targets(ctx context.Context, req Request, flag models.SymbolFlag, res *Result) ([]models.Symbol, error) {
	conn := l.DB.Conn()
	if len(req.Tickers) == 0 {
		var missing models.SymbolFlag
		if req.MissingOnly {
			missing = flag
		}
		syms, err := conn.ListSymbols(ctx, missing)
		if err != nil {
			return nil, err
		}
		res.Targets = len(syms)
		return syms, nil
	}

	syms := make([]models.Symbol, 0, len(req.Tickers))
	for _, ticker := range req.Tickers {
		sym, err := conn.GetSymbol(ctx, ticker)
		if errors.Is(err, db.ErrNotFound) {
			res.Report.Failed++
			res.Report.Errors = append(res.Report.Errors, fmt.Sprintf("%s: %v", ticker, reconcile.ErrUnknownSymbol))
			l.logger().Warn("ticker not loaded as a symbol", "ticker", ticker)
			continue
		}
		if err != nil {
			return nil, err
		}
		if req.MissingOnly && symbolHas(*sym, flag) {
			continue
		}
		syms = append(syms, *sym)
	}
	res.Targets = len(syms)
	return syms, nil
}

func symbolHas(s models.Symbol, flag models.SymbolFlag) bool {
	switch flag {
	case models.FlagOverview:
		return s.Overview
	case models.FlagIntraday:
		return s.Intraday
	case models.FlagSummary:
		return s.Summary
	}
	return false
}

// missCounter decides what a fetch error means for the job. Transient
// failures are misses: that key yields nothing this run. Too many misses,
// or any permanent failure other than an empty answer, stop the job.
type missCounter struct {
	max    int
	n      int
	logger *slog.Logger
}

func (m *missCounter) absorb(key string, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fetcher.ErrNoData):
		m.logger.Info("no data from provider", "ticker", key, "error", err)
		return nil
	case fetcher.IsTransient(err):
		m.n++
		m.logger.Warn("fetch miss", "ticker", key, "misses", m.n, "error", err)
		if m.max > 0 && m.n > m.max {
			return fmt.Errorf("%w: %d (last: %w)", ErrTooManyMisses, m.n, err)
		}
		return nil
	}
	return err
}

// perKey chains the sequences fetch returns for each key into one. Malformed
// records pass through to be counted by the reconciler; other errors go
// through the miss counter and end that key's sequence.
func perKey[K, T any](ctx context.Context, keys []K, name func(K) string, m *missCounter, fetch func(K) iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, k := range keys {
			if ctx.Err() != nil {
				return
			}
			for rec, err := range fetch(k) {
				if err == nil || errors.Is(err, models.ErrMalformed) {
					if !yield(rec, err) {
						return
					}
					continue
				}
				if ferr := m.absorb(name(k), err); ferr != nil {
					var zero T
					yield(zero, ferr)
					return
				}
				break
			}
		}
	}
}

func one[T any](v T, err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		yield(v, err)
	}
}

func symbolName(s models.Symbol) string { return s.Symbol }

func (l *Loader) misses() *missCounter {
	return &missCounter{max: l.Config.Jobs.MaxFetchMisses, logger: l.logger()}
}

// Symbols searches the provider for each keyword and stores securities not
// yet known. Sids are allocated sequentially, so a single worker applies.
func (l *Loader) Symbols(ctx context.Context, keywords []string) (Result, error) {
	return l.run(ctx, models.ProcLoadSymbols, func(ctx context.Context, res *Result) error {
		res.Targets = len(keywords)
		m := l.misses()
		seq := perKey(ctx, keywords, func(k string) string { return k }, m,
			func(k string) iter.Seq2[models.Symbol, error] { return l.Fetcher.SymbolSearch(ctx, k) })

		report, err := reconcile.Run(ctx, l.DB, seq, reconcile.SymbolApplier{Now: l.Now}, l.options(1))
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}

// Overviews loads company fundamentals.
func (l *Loader) Overviews(ctx context.Context, req Request) (Result, error) {
	return l.run(ctx, models.ProcLoadOverviews, func(ctx context.Context, res *Result) error {
		syms, err := l.targets(ctx, req, models.FlagOverview, res)
		if err != nil {
			return err
		}
		m := l.misses()
		seq := perKey(ctx, syms, symbolName, m, func(s models.Symbol) iter.Seq2[models.CompanyOverview, error] {
			o, err := l.Fetcher.Overview(ctx, s.Symbol)
			o.Overview.Sid = s.Sid
			o.Ext.Sid = s.Sid
			return one(o, err)
		})

		report, err := reconcile.Run(ctx, l.DB, seq, reconcile.OverviewApplier{Now: l.Now}, l.options(l.Config.WorkerCount))
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}

// DigitalSymbols stores digital currencies from a listing as Crypto symbols.
// No provider call is made; known codes are skipped.
func (l *Loader) DigitalSymbols(ctx context.Context, symbols []models.Symbol) (Result, error) {
	return l.run(ctx, models.ProcLoadSymbols, func(ctx context.Context, res *Result) error {
		res.Targets = len(symbols)
		var seq iter.Seq2[models.Symbol, error] = func(yield func(models.Symbol, error) bool) {
			for _, s := range symbols {
				if !yield(s, nil) {
					return
				}
			}
		}
		report, err := reconcile.Run(ctx, l.DB, seq, reconcile.SymbolApplier{Now: l.Now}, l.options(1))
		res.Report.Merge(report)
		return err
	})
}

func isCrypto(s models.Symbol) bool { return s.SecType == models.SecCrypto }

// Intraday loads intraday bars of listed securities. Bars at or before the
// latest stored bar of a symbol are counted as skipped without touching
// storage, unless the update-open policy may still refresh them.
func (l *Loader) Intraday(ctx context.Context, req Request) (Result, error) {
	keep := func(s models.Symbol) bool { return !isCrypto(s) }
	return l.intraday(ctx, models.ProcLoadIntraday, req, keep, func(ctx context.Context, s models.Symbol, interval time.Duration) iter.Seq2[models.IntradayPrice, error] {
		return l.Fetcher.Intraday(ctx, s.Symbol, interval)
	})
}

// CryptoIntraday loads intraday bars of the stored digital currencies.
func (l *Loader) CryptoIntraday(ctx context.Context, req Request) (Result, error) {
	return l.intraday(ctx, models.ProcLoadCryptoIntraday, req, isCrypto, func(ctx context.Context, s models.Symbol, interval time.Duration) iter.Seq2[models.IntradayPrice, error] {
		market := s.Currency
		if market == "" {
			market = models.DigitalMarket
		}
		return l.Fetcher.CryptoIntraday(ctx, s.Symbol, market, interval)
	})
}

type barSource func(ctx context.Context, s models.Symbol, interval time.Duration) iter.Seq2[models.IntradayPrice, error]

// intraday runs an intraday job over the target symbols keep accepts.
// Explicitly requested tickers that keep rejects are counted as failed.
func (l *Loader) intraday(ctx context.Context, procType models.ProcType, req Request, keep func(models.Symbol) bool, fetch barSource) (Result, error) {
	return l.run(ctx, procType, func(ctx context.Context, res *Result) error {
		all, err := l.targets(ctx, req, models.FlagIntraday, res)
		if err != nil {
			return err
		}
		syms := all[:0]
		for _, s := range all {
			if keep(s) {
				syms = append(syms, s)
				continue
			}
			if len(req.Tickers) > 0 {
				res.Report.Failed++
				res.Report.Errors = append(res.Report.Errors, fmt.Sprintf("%s: %s symbols are not loaded by %s", s.Symbol, s.SecType, procType))
			}
		}
		res.Targets = len(syms)

		applier := reconcile.IntradayApplier{
			Policy:   l.Config.Intraday.OpenBarPolicy,
			Interval: l.Config.Intraday.Interval,
			Now:      l.Now,
		}

		var preSkipped int
		m := l.misses()
		seq := perKey(ctx, syms, symbolName, m, func(s models.Symbol) iter.Seq2[models.IntradayPrice, error] {
			return func(yield func(models.IntradayPrice, error) bool) {
				latest, ok, err := l.DB.Conn().LatestIntraday(ctx, s.Sid)
				if err != nil {
					yield(models.IntradayPrice{}, fmt.Errorf("failed to read latest bar for %s: %w", s.Symbol, err))
					return
				}
				cutoff := latest
				if applier.Policy == models.OpenBarUpdate {
					// the last stored bar may still be open
					cutoff = latest.Add(-applier.Interval)
				}
				for p, err := range fetch(ctx, s, applier.Interval) {
					if err == nil {
						if ok && !p.Timestamp.After(cutoff) {
							preSkipped++
							continue
						}
						p.Sid = s.Sid
					}
					if !yield(p, err) {
						return
					}
				}
			}
		})

		report, err := reconcile.Run(ctx, l.DB, seq, applier, l.options(l.Config.WorkerCount))
		report.Skipped += preSkipped
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}

// Summary loads daily bars.
func (l *Loader) Summary(ctx context.Context, req Request) (Result, error) {
	return l.run(ctx, models.ProcLoadSummary, func(ctx context.Context, res *Result) error {
		syms, err := l.targets(ctx, req, models.FlagSummary, res)
		if err != nil {
			return err
		}
		m := l.misses()
		seq := perKey(ctx, syms, symbolName, m, func(s models.Symbol) iter.Seq2[models.SummaryPrice, error] {
			return func(yield func(models.SummaryPrice, error) bool) {
				for p, err := range l.Fetcher.Daily(ctx, s.Symbol) {
					p.Sid = s.Sid
					if !yield(p, err) {
						return
					}
				}
			}
		})

		report, err := reconcile.Run(ctx, l.DB, seq, reconcile.SummaryApplier{Now: l.Now}, l.options(l.Config.WorkerCount))
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}

// Tops loads the day's top gainers, losers and most active securities.
// Movers whose ticker is not a stored symbol are counted as failed.
func (l *Loader) Tops(ctx context.Context) (Result, error) {
	return l.run(ctx, models.ProcLoadTops, func(ctx context.Context, res *Result) error {
		res.Targets = 1
		m := l.misses()
		seq := perKey(ctx, []string{"market"}, func(k string) string { return k }, m,
			func(string) iter.Seq2[models.TopStat, error] { return l.Fetcher.TopMovers(ctx) })

		report, err := reconcile.Run(ctx, l.DB, seq, reconcile.TopStatApplier{}, l.options(l.Config.WorkerCount))
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}

// News loads the news and sentiment feed of each symbol. The symbol index is
// read once so ticker sentiments resolve without a query per ticker.
func (l *Loader) News(ctx context.Context, req Request) (Result, error) {
	return l.run(ctx, models.ProcLoadNews, func(ctx context.Context, res *Result) error {
		syms, err := l.targets(ctx, req, "", res)
		if err != nil {
			return err
		}
		index, err := l.DB.Conn().SymbolIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to load symbol index: %w", err)
		}
		normalizer := l.Normalizer
		if normalizer == nil {
			normalizer = normalize.New()
		}
		applier := reconcile.NewsApplier{
			Normalizer: normalizer,
			Lookup:     &relmap.Lookup{Symbols: index},
			Logger:     l.logger(),
			Now:        l.Now,
		}

		m := l.misses()
		seq := perKey(ctx, syms, symbolName, m, func(s models.Symbol) iter.Seq2[reconcile.NewsRecord, error] {
			return func(yield func(reconcile.NewsRecord, error) bool) {
				batch, err := l.Fetcher.News(ctx, s.Symbol)
				if err != nil {
					yield(reconcile.NewsRecord{}, err)
					return
				}
				batch.Sid = s.Sid
				for _, rec := range reconcile.NewsRecords(batch) {
					if !yield(rec, nil) {
						return
					}
				}
			}
		})

		report, err := reconcile.Run(ctx, l.DB, seq, applier, l.options(l.Config.WorkerCount))
		res.Report.Merge(report)
		res.Misses = m.n
		return err
	})
}
