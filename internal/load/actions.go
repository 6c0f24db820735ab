package load

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/mktdata-loader/internal/common"
	"github.com/dtnitsch/mktdata-loader/pkg/caching"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
	"github.com/dtnitsch/mktdata-loader/pkg/fetcher"
	"github.com/dtnitsch/mktdata-loader/pkg/jobs"
	"github.com/dtnitsch/mktdata-loader/pkg/normalize"
)

// newLoader builds a Loader from global flags and config. needKey is false
// for loads that never call the provider.
func newLoader(c *cli.Context, needKey bool) (*Loader, error) {
	logger := common.NewLogger(c)

	cfg, err := common.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	if needKey && cfg.Provider.APIKey == "" {
		return nil, errors.New("provider API key is required (--api-key or MDL_API_KEY)")
	}
	onActive, err := jobs.ParseOnActive(cfg.Jobs.OnActive)
	if err != nil {
		return nil, err
	}

	var cache *caching.Cache
	if cfg.Provider.CacheDir != "" {
		cache, err = caching.NewCache(cfg.Provider.CacheDir, cfg.Provider.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize response cache: %w", err)
		}
		if n, err := cache.Prune(); err != nil {
			logger.Warn("failed to prune response cache", "error", err)
		} else if n > 0 {
			logger.Debug("pruned response cache", "removed", n)
		}
	}

	database, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Loader{
		DB: database,
		Fetcher: fetcher.NewFetcher(fetcher.Options{
			BaseURL:           cfg.Provider.BaseURL,
			APIKey:            cfg.Provider.APIKey,
			RequestsPerMinute: cfg.Provider.RequestsPerMinute,
			Timeout:           cfg.Provider.Timeout,
			MaxRetries:        cfg.Provider.MaxRetries,
			Cache:             cache,
			Logger:            logger,
		}),
		Jobs: jobs.New(database, jobs.Options{
			OnActive:   onActive,
			StaleAfter: cfg.Jobs.StaleAfter,
			Logger:     logger,
		}),
		Config:     cfg,
		Normalizer: normalize.New(),
		Logger:     logger,
	}, nil
}

// runLoad wires up a Loader, runs fn until it finishes or the process is
// interrupted, and prints the result as YAML.
func runLoad(c *cli.Context, fn func(ctx context.Context, l *Loader) (Result, error)) error {
	return runLoadWith(c, true, fn)
}

func runLoadWith(c *cli.Context, needKey bool, fn func(ctx context.Context, l *Loader) (Result, error)) error {
	l, err := newLoader(c, needKey)
	if err != nil {
		return err
	}
	defer l.DB.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, runErr := fn(ctx, l)

	if errors.Is(runErr, jobs.ErrJobActive) {
		return cli.Exit(fmt.Sprintf("%s: another run is active (use --on-active wait or force-stale)", res.ProcType), 3)
	}

	out, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Print(string(out))

	if runErr != nil {
		return fmt.Errorf("load failed: %w", runErr)
	}
	return nil
}

// request reads --tickers and --missing-only.
func request(c *cli.Context, l *Loader) Request {
	tickers, invalid := common.SanitizeAndValidateTickers(common.SplitList(c.String("tickers")))
	for _, raw := range invalid {
		l.logger().Warn("ignoring invalid ticker", "ticker", raw)
	}
	return Request{Tickers: tickers, MissingOnly: c.Bool("missing-only")}
}

func SymbolsAction(c *cli.Context) error {
	if c.IsSet("digital") {
		return digitalSymbols(c)
	}
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		raw := common.SplitList(c.String("tickers"))
		if c.IsSet("file") {
			listed, err := common.ReadListing(c.String("file"))
			if err != nil {
				return Result{}, err
			}
			raw = append(raw, listed...)
		}
		keywords, invalid := common.SanitizeAndValidateTickers(raw)
		for _, k := range invalid {
			l.logger().Warn("ignoring invalid ticker", "ticker", k)
		}
		if len(keywords) == 0 {
			return Result{}, errors.New("no tickers given (use --file, --tickers or --digital)")
		}
		return l.Symbols(ctx, keywords)
	})
}

// digitalSymbols loads a digital currency list. It makes no provider calls,
// so it does not need an API key.
func digitalSymbols(c *cli.Context) error {
	if c.IsSet("file") || c.IsSet("tickers") {
		return errors.New("--digital cannot be combined with --file or --tickers")
	}
	return runLoadWith(c, false, func(ctx context.Context, l *Loader) (Result, error) {
		symbols, invalid, err := common.ReadDigitalListing(c.String("digital"))
		if err != nil {
			return Result{}, err
		}
		for _, code := range invalid {
			l.logger().Warn("ignoring invalid currency code", "code", code)
		}
		if len(symbols) == 0 {
			return Result{}, errors.New("digital listing has no currencies")
		}
		return l.DigitalSymbols(ctx, symbols)
	})
}

func OverviewsAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.Overviews(ctx, request(c, l))
	})
}

func IntradayAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.Intraday(ctx, request(c, l))
	})
}

func CryptoIntradayAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.CryptoIntraday(ctx, request(c, l))
	})
}

func SummaryAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.Summary(ctx, request(c, l))
	})
}

func NewsAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.News(ctx, request(c, l))
	})
}

func TopsAction(c *cli.Context) error {
	return runLoad(c, func(ctx context.Context, l *Loader) (Result, error) {
		return l.Tops(ctx)
	})
}
