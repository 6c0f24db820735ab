// Package fetcher talks to the market data provider. Every request passes a
// shared token bucket and is retried with exponential backoff while the
// failure looks transient.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	_ "time/tzdata" // provider timestamps are US/Eastern

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/dtnitsch/mktdata-loader/pkg/caching"
)

// ErrNoData is returned when the provider answered but had nothing for the
// requested ticker.
var ErrNoData = errors.New("no data")

// FetchError describes a failed provider call. Transient errors were retried
// until the retry budget ran out.
type FetchError struct {
	Op        string
	Ticker    string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ticker, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a FetchError worth trying again later.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

type Options struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        uint64
	RetryInterval     time.Duration // first backoff interval
	Location          *time.Location
	Cache             *caching.Cache
	Logger            *slog.Logger
	Client            *http.Client
}

type Fetcher struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	maxRetries uint64
	retryEvery time.Duration
	loc        *time.Location
	cache      *caching.Cache
	logger     *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	rpm := max(opts.RequestsPerMinute, 1)
	retryEvery := opts.RetryInterval
	if retryEvery <= 0 {
		retryEvery = 2 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation("America/New_York"); err != nil {
			loc = time.UTC
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		client:     client,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		maxRetries: opts.MaxRetries,
		retryEvery: retryEvery,
		loc:        loc,
		cache:      opts.Cache,
		logger:     logger,
	}
}

// providerNotice is the JSON body the provider sends instead of data when a
// call is refused.
type providerNotice struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

// get performs one provider call. params must contain "function".
func (f *Fetcher) get(ctx context.Context, op, ticker string, params url.Values) ([]byte, error) {
	cacheKey := params.Encode()
	if f.cache != nil {
		if data, ok := f.cache.Get(cacheKey); ok {
			f.logger.Debug("cache hit", "op", op, "ticker", ticker)
			return data, nil
		}
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("apikey", f.apiKey)
	addr := f.baseURL + "?" + q.Encode()

	var body []byte
	attempt := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		data, err := f.getBytes(ctx, addr)
		if err != nil {
			return err
		}
		if err := checkNotice(data); err != nil {
			return err
		}
		body = data
		return nil
	}

	var bo backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(f.retryEvery),
		backoff.WithMaxElapsedTime(0),
	)
	bo = backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx)

	err := backoff.RetryNotify(attempt, bo, func(err error, wait time.Duration) {
		f.logger.Warn("provider call failed, retrying", "op", op, "ticker", ticker, "wait", wait, "error", err)
	})
	if err != nil {
		var te *transientError
		transient := errors.As(err, &te)
		if ctx.Err() != nil {
			transient = false
			err = ctx.Err()
		}
		return nil, &FetchError{Op: op, Ticker: ticker, Transient: transient, Err: err}
	}

	if f.cache != nil {
		if err := f.cache.Set(cacheKey, body); err != nil {
			f.logger.Warn("failed to cache response", "op", op, "error", err)
		}
	}
	return body, nil
}

// evict drops the cached response for params. Endpoints call it when a body
// could not be decoded so the next run asks the provider again.
func (f *Fetcher) evict(op string, params url.Values) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Delete(params.Encode()); err != nil {
		f.logger.Warn("failed to evict cached response", "op", op, "error", err)
		return
	}
	f.logger.Debug("evicted unusable response", "op", op)
}

// transientError marks a failure that backoff should retry. Anything else
// returned from an attempt is wrapped in backoff.Permanent.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (f *Fetcher) getBytes(ctx context.Context, addr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &transientError{fmt.Errorf("failed to make HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &transientError{fmt.Errorf("status code: %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("status code: %d", resp.StatusCode))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read response body: %w", err)}
	}
	return bodyBytes, nil
}

// checkNotice turns the provider's refusal bodies into errors. Throttling
// notices are transient; an error message means the request itself is bad.
func checkNotice(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &transientError{errors.New("empty response")}
	}
	if trimmed[0] != '{' {
		return nil
	}
	var n providerNotice
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return nil
	}
	switch {
	case n.ErrorMessage != "":
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNoData, n.ErrorMessage))
	case n.Note != "":
		return &transientError{errors.New(n.Note)}
	case n.Information != "":
		return &transientError{errors.New(n.Information)}
	}
	return nil
}
