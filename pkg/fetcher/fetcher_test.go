package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/caching"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc, mod ...func(*Options)) (*Fetcher, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	opts := Options{
		BaseURL:           srv.URL + "/query",
		APIKey:            "test-key",
		RequestsPerMinute: 600000,
		MaxRetries:        3,
		RetryInterval:     time.Millisecond,
	}
	for _, m := range mod {
		m(&opts)
	}
	return NewFetcher(opts), &hits
}

func serve(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}
}

const intradayCSV = `timestamp,open,high,low,close,volume
2024-01-02 15:55:00,185.10,185.50,184.90,185.20,120000
2024-01-02 15:50:00,185.00,185.30,184.80,185.10,98000
2024-01-02 15:45:00,bad,185.30,184.80,185.10,98000
`

func TestIntraday(t *testing.T) {
	var gotQuery string
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, intradayCSV)
	})

	var bars []models.IntradayPrice
	var malformed int
	for p, err := range f.Intraday(context.Background(), "AAPL", 5*time.Minute) {
		if err != nil {
			if !errors.Is(err, models.ErrMalformed) {
				t.Fatalf("Intraday() error = %v", err)
			}
			malformed++
			continue
		}
		bars = append(bars, p)
	}

	if malformed != 1 {
		t.Errorf("malformed rows = %d, want 1", malformed)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	// oldest first, converted from US/Eastern
	want := time.Date(2024, 1, 2, 20, 50, 0, 0, time.UTC)
	if !bars[0].Timestamp.Equal(want) {
		t.Errorf("first bar at %v, want %v", bars[0].Timestamp, want)
	}
	if bars[1].Close != 185.20 || bars[1].Volume != 120000 {
		t.Errorf("last bar = %+v", bars[1])
	}
	if !strings.Contains(gotQuery, "function=TIME_SERIES_INTRADAY") || !strings.Contains(gotQuery, "interval=5min") {
		t.Errorf("query = %s", gotQuery)
	}
}

func TestCryptoIntraday(t *testing.T) {
	var gotQuery string
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, "timestamp,open,high,low,close,volume\n"+
			"2024-01-02 21:00:00,42100.5,42150.0,42080.1,42120.7,12\n"+
			"2024-01-02 20:55:00,42090.0,42110.0,42070.0,42100.5,9\n")
	})

	var bars []models.IntradayPrice
	for p, err := range f.CryptoIntraday(context.Background(), "BTC", "USD", 5*time.Minute) {
		if err != nil {
			t.Fatalf("CryptoIntraday() error = %v", err)
		}
		bars = append(bars, p)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2", len(bars))
	}
	// already UTC on the wire
	want := time.Date(2024, 1, 2, 20, 55, 0, 0, time.UTC)
	if !bars[0].Timestamp.Equal(want) || bars[0].Symbol != "BTC" {
		t.Errorf("first bar = %+v, want BTC at %v", bars[0], want)
	}
	for _, part := range []string{"function=CRYPTO_INTRADAY", "symbol=BTC", "market=USD", "interval=5min"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("query %s missing %s", gotQuery, part)
		}
	}
}

func TestIntraday_NoData(t *testing.T) {
	f, _ := newTestFetcher(t, serve("{}"))
	for _, err := range f.Intraday(context.Background(), "NOPE", 5*time.Minute) {
		if !errors.Is(err, ErrNoData) {
			t.Errorf("Intraday() error = %v, want ErrNoData", err)
		}
		if IsTransient(err) {
			t.Error("no data classified as transient")
		}
	}
}

func TestGet_Retries(t *testing.T) {
	tests := []struct {
		name          string
		handler       func(n int32) (int, string)
		wantErr       bool
		wantTransient bool
		wantNoData    bool
		wantHits      int32
	}{
		{
			name: "recovers after server errors",
			handler: func(n int32) (int, string) {
				if n < 3 {
					return http.StatusServiceUnavailable, ""
				}
				return http.StatusOK, intradayCSV
			},
			wantHits: 3,
		},
		{
			name:          "throttled until budget runs out",
			handler:       func(int32) (int, string) { return http.StatusOK, `{"Note": "Thank you for using our API"}` },
			wantErr:       true,
			wantTransient: true,
			wantHits:      4,
		},
		{
			name:       "provider error message",
			handler:    func(int32) (int, string) { return http.StatusOK, `{"Error Message": "Invalid API call"}` },
			wantErr:    true,
			wantNoData: true,
			wantHits:   1,
		},
		{
			name:     "unauthorized is permanent",
			handler:  func(int32) (int, string) { return http.StatusUnauthorized, "" },
			wantErr:  true,
			wantHits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n atomic.Int32
			f, hits := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				code, body := tt.handler(n.Add(1))
				w.WriteHeader(code)
				fmt.Fprint(w, body)
			})

			_, err := f.get(context.Background(), "intraday", "AAPL", map[string][]string{"function": {"TIME_SERIES_INTRADAY"}})
			if (err != nil) != tt.wantErr {
				t.Fatalf("get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("error %T is not a *FetchError", err)
				}
				if fe.Transient != tt.wantTransient {
					t.Errorf("Transient = %v, want %v", fe.Transient, tt.wantTransient)
				}
				if errors.Is(err, ErrNoData) != tt.wantNoData {
					t.Errorf("errors.Is(ErrNoData) = %v, want %v", !tt.wantNoData, tt.wantNoData)
				}
			}
			if got := hits.Load(); got != tt.wantHits {
				t.Errorf("server hits = %d, want %d", got, tt.wantHits)
			}
		})
	}
}

func TestGet_Cancelled(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, func(o *Options) { o.RetryInterval = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.get(ctx, "daily", "AAPL", map[string][]string{"function": {"TIME_SERIES_DAILY"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("get() error = %v, want deadline exceeded", err)
	}
	if IsTransient(err) {
		t.Error("cancelled call classified as transient")
	}
}

func TestGet_Cache(t *testing.T) {
	cache, err := caching.NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	f, hits := newTestFetcher(t, serve(intradayCSV), func(o *Options) { o.Cache = cache })

	for range 2 {
		for _, err := range f.Intraday(context.Background(), "AAPL", 5*time.Minute) {
			if err != nil && !errors.Is(err, models.ErrMalformed) {
				t.Fatalf("Intraday() error = %v", err)
			}
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1 (second call cached)", got)
	}
}

func TestGet_CacheEvictsUnusable(t *testing.T) {
	cache, err := caching.NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	var calls atomic.Int32
	f, hits := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// rows without a header line
			fmt.Fprint(w, "2024-01-02 15:55:00,185.10,185.50,184.90,185.20,120000\n")
			return
		}
		fmt.Fprint(w, intradayCSV)
	}, func(o *Options) { o.Cache = cache })

	load := func() (bars int, err error) {
		for _, e := range f.Intraday(context.Background(), "AAPL", 5*time.Minute) {
			if e == nil {
				bars++
			} else if !errors.Is(e, models.ErrMalformed) {
				err = e
			}
		}
		return bars, err
	}

	if _, err := load(); !errors.Is(err, ErrNoData) {
		t.Fatalf("first Intraday() error = %v, want ErrNoData", err)
	}
	bars, err := load()
	if err != nil {
		t.Fatalf("second Intraday() error = %v", err)
	}
	if bars != 2 {
		t.Errorf("second run got %d bars, want 2", bars)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2 (unusable response not cached)", got)
	}

	// the good response is cached again
	if _, err := load(); err != nil {
		t.Fatalf("third Intraday() error = %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d after cached run, want 2", got)
	}
}

func TestOverview_CacheEvictsUnusable(t *testing.T) {
	cache, err := caching.NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	f, hits := newTestFetcher(t, serve("not json"), func(o *Options) { o.Cache = cache })

	for range 2 {
		if _, err := f.Overview(context.Background(), "AAPL"); err == nil {
			t.Fatal("Overview() should fail on an undecodable body")
		}
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestDaily(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`{
		"Meta Data": {"2. Symbol": "IBM"},
		"Time Series (Daily)": {
			"2024-01-03": {"1. open": "161.00", "2. high": "161.73", "3. low": "160.08", "4. close": "160.10", "5. volume": "4086100"},
			"2024-01-02": {"1. open": "162.83", "2. high": "163.29", "3. low": "160.38", "4. close": "161.50", "5. volume": "3825045"}
		}
	}`))

	var got []models.SummaryPrice
	for p, err := range f.Daily(context.Background(), "IBM") {
		if err != nil {
			t.Fatalf("Daily() error = %v", err)
		}
		got = append(got, p)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars, want 2", len(got))
	}
	if !got[0].Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first date = %v", got[0].Date)
	}
	if got[0].Open != 162.83 || got[0].Volume != 3825045 {
		t.Errorf("first bar = %+v", got[0])
	}
}

func TestOverview(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`{
		"Symbol": "IBM", "AssetType": "Common Stock", "Name": "International Business Machines",
		"CIK": "51143", "Exchange": "NYSE", "Currency": "USD", "Country": "USA",
		"LatestQuarter": "2023-12-31", "MarketCapitalization": "147565552000", "EBITDA": "14561000000",
		"PERatio": "22.43", "PEGRatio": "None", "EPS": "8.14", "Beta": "0.702",
		"52WeekHigh": "166.34", "50DayMovingAverage": "158.06", "DividendDate": "None",
		"ExDividendDate": "2023-11-09"
	}`))

	ov, err := f.Overview(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if ov.Overview.Name != "International Business Machines" || ov.Overview.PERatio != 22.43 {
		t.Errorf("Overview = %+v", ov.Overview)
	}
	if ov.Overview.PEGRatio != 0 || !ov.Ext.DividendDate.IsZero() {
		t.Error("None values not read as zero")
	}
	if ov.Overview.MarketCapitalization != 147565552000 {
		t.Errorf("MarketCapitalization = %d", ov.Overview.MarketCapitalization)
	}
	if ov.Ext.WeekHigh52 != 166.34 || !ov.Ext.ExDividendDate.Equal(time.Date(2023, 11, 9, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Ext = %+v", ov.Ext)
	}
}

func TestOverview_Malformed(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`{"Symbol": "IBM", "Name": "IBM", "PERatio": "twenty"}`))
	_, err := f.Overview(context.Background(), "IBM")
	if !errors.Is(err, models.ErrMalformed) {
		t.Errorf("Overview() error = %v, want ErrMalformed", err)
	}
}

func TestTopMovers(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`{
		"metadata": "Top gainers, losers, and most actively traded US tickers",
		"last_updated": "2024-01-02 16:15:59 US/Eastern",
		"top_gainers": [{"ticker": "NVDA", "price": "500.00", "change_amount": "20.00", "change_percentage": "4.1667%", "volume": "1000"}],
		"top_losers": [{"ticker": "XYZ", "price": "1.00", "change_amount": "-1.00", "change_percentage": "-50%", "volume": "200"}],
		"most_actively_traded": [{"ticker": "SPY", "price": "470.00", "change_amount": "1.00", "change_percentage": "0.2%", "volume": "x"}]
	}`))

	var stats []models.TopStat
	var malformed int
	for s, err := range f.TopMovers(context.Background()) {
		if errors.Is(err, models.ErrMalformed) {
			malformed++
			continue
		}
		if err != nil {
			t.Fatalf("TopMovers() error = %v", err)
		}
		stats = append(stats, s)
	}
	if len(stats) != 2 || malformed != 1 {
		t.Fatalf("got %d stats and %d malformed, want 2 and 1", len(stats), malformed)
	}
	if stats[0].EventType != models.TopGainer || stats[0].ChangePct != 4.1667 {
		t.Errorf("gainer = %+v", stats[0])
	}
	if stats[1].EventType != models.TopLoser || stats[1].ChangeVal != -1 {
		t.Errorf("loser = %+v", stats[1])
	}
	if !stats[0].Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", stats[0].Date)
	}
	if !stats[0].LastUpdated.Equal(time.Date(2024, 1, 2, 16, 15, 59, 0, time.UTC)) {
		t.Errorf("last updated = %v", stats[0].LastUpdated)
	}
}

func TestNews(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`{
		"items": "2",
		"sentiment_score_definition": "x <= -0.35: Bearish",
		"relevance_score_definition": "0 < x <= 1",
		"feed": [
			{
				"title": "Apple beats", "url": "https://example.com/a", "time_published": "20240102T130000",
				"authors": ["Jane Doe"], "summary": "s", "source": "Reuters", "source_domain": "www.reuters.com",
				"topics": [{"topic": "Earnings", "relevance_score": "0.999"}],
				"overall_sentiment_score": 0.25, "overall_sentiment_label": "Somewhat-Bullish",
				"ticker_sentiment": [{"ticker": "AAPL", "relevance_score": "0.9", "ticker_sentiment_score": "0.31", "ticker_sentiment_label": "Bullish"}]
			},
			{"title": "No time", "url": "https://example.com/b", "time_published": "yesterday", "source": "Reuters"}
		]
	}`))

	batch, err := f.News(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("News() error = %v", err)
	}
	if batch.Items != 2 || len(batch.Feed) != 2 {
		t.Fatalf("batch items = %d, feed = %d", batch.Items, len(batch.Feed))
	}
	first := batch.Feed[0]
	if !first.Article.TimePublished.Equal(time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)) {
		t.Errorf("TimePublished = %v", first.Article.TimePublished)
	}
	if first.OverallScore != 0.25 || first.Topics[0].RelevanceScore != 0.999 {
		t.Errorf("scores = %v, %v", first.OverallScore, first.Topics[0].RelevanceScore)
	}
	if first.TickerSentiments[0].SentimentScore != 0.31 {
		t.Errorf("ticker sentiment = %+v", first.TickerSentiments[0])
	}
	if !batch.Feed[1].Article.TimePublished.IsZero() {
		t.Error("unreadable publish time not left zero")
	}
}

func TestSymbolSearch(t *testing.T) {
	f, _ := newTestFetcher(t, serve(`symbol,name,type,region,marketOpen,marketClose,timezone,currency,matchScore
SPY,SPDR S&P 500 ETF Trust,ETF,United States,09:30,16:00,UTC-04,USD,1.0000
BABA,Alibaba Group Holding Ltd ADR,Equity,United States,09:30,16:00,UTC-04,USD,0.5000
`))

	var syms []models.Symbol
	for s, err := range f.SymbolSearch(context.Background(), "SPY") {
		if err != nil {
			t.Fatalf("SymbolSearch() error = %v", err)
		}
		syms = append(syms, s)
	}
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2", len(syms))
	}
	if syms[0].SecType != models.SecETF || syms[0].Region != "USA" {
		t.Errorf("SPY = %+v", syms[0])
	}
	if syms[1].SecType != models.SecADR {
		t.Errorf("BABA type = %s, want ADR", syms[1].SecType)
	}
}

func TestParseLastUpdated(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2023-10-03 16:15:59 US/Eastern", time.Date(2023, 10, 3, 16, 15, 59, 0, time.UTC), false},
		{"2023-10-03 16:15:59", time.Date(2023, 10, 3, 16, 15, 59, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseLastUpdated(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLastUpdated(%q) error = %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseLastUpdated(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
