package fetcher

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dtnitsch/mktdata-loader/models"
)

// readCSV parses a CSV response and returns the column index of every
// header field. A body without the required columns is a provider answer
// without data.
func readCSV(body []byte, required ...string) (map[string]int, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoData
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("%w: missing column %q", ErrNoData, name)
		}
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return cols, rows, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// SymbolSearch looks up securities matching keyword.
func (f *Fetcher) SymbolSearch(ctx context.Context, keyword string) iter.Seq2[models.Symbol, error] {
	return func(yield func(models.Symbol, error) bool) {
		params := url.Values{
			"function": {"SYMBOL_SEARCH"},
			"keywords": {keyword},
			"datatype": {"csv"},
		}
		body, err := f.get(ctx, "symbol_search", keyword, params)
		if err != nil {
			yield(models.Symbol{}, err)
			return
		}
		cols, rows, err := readCSV(body, "symbol", "name", "type")
		if err != nil {
			f.evict("symbol_search", params)
			yield(models.Symbol{}, &FetchError{Op: "symbol_search", Ticker: keyword, Err: err})
			return
		}
		for _, row := range rows {
			sym := models.Symbol{
				Symbol:      strings.ToUpper(field(row, cols, "symbol")),
				Name:        field(row, cols, "name"),
				Region:      normalizeRegion(field(row, cols, "region")),
				MarketOpen:  field(row, cols, "marketOpen"),
				MarketClose: field(row, cols, "marketClose"),
				Timezone:    field(row, cols, "timezone"),
				Currency:    field(row, cols, "currency"),
			}
			sym.SecType = models.ClassifySecurity(field(row, cols, "type"), sym.Name)
			if sym.Symbol == "" {
				if !yield(models.Symbol{}, fmt.Errorf("%w: symbol search row without symbol", models.ErrMalformed)) {
					return
				}
				continue
			}
			if !yield(sym, nil) {
				return
			}
		}
	}
}

// intervalParam maps an intraday interval onto the provider's names.
func intervalParam(d time.Duration) (string, error) {
	switch d {
	case time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute:
		return fmt.Sprintf("%dmin", int(d.Minutes())), nil
	}
	return "", fmt.Errorf("unsupported intraday interval %s", d)
}

// Intraday fetches the recent intraday bars of ticker, oldest first.
// Timestamps are converted to UTC.
func (f *Fetcher) Intraday(ctx context.Context, ticker string, interval time.Duration) iter.Seq2[models.IntradayPrice, error] {
	return f.intraday(ctx, "intraday", ticker, interval, f.loc, url.Values{
		"function": {"TIME_SERIES_INTRADAY"},
		"symbol":   {ticker},
		"datatype": {"csv"},
	})
}

// CryptoIntraday fetches the recent intraday bars of a digital currency
// quoted in market. The provider stamps these in UTC.
func (f *Fetcher) CryptoIntraday(ctx context.Context, code, market string, interval time.Duration) iter.Seq2[models.IntradayPrice, error] {
	return f.intraday(ctx, "crypto_intraday", code, interval, time.UTC, url.Values{
		"function": {"CRYPTO_INTRADAY"},
		"symbol":   {code},
		"market":   {market},
		"datatype": {"csv"},
	})
}

func (f *Fetcher) intraday(ctx context.Context, op, ticker string, interval time.Duration, loc *time.Location, params url.Values) iter.Seq2[models.IntradayPrice, error] {
	return func(yield func(models.IntradayPrice, error) bool) {
		ivl, err := intervalParam(interval)
		if err != nil {
			yield(models.IntradayPrice{}, &FetchError{Op: op, Ticker: ticker, Err: err})
			return
		}
		params.Set("interval", ivl)
		body, err := f.get(ctx, op, ticker, params)
		if err != nil {
			yield(models.IntradayPrice{}, err)
			return
		}
		cols, rows, err := readCSV(body, "timestamp", "open", "high", "low", "close", "volume")
		if err != nil {
			f.evict(op, params)
			yield(models.IntradayPrice{}, &FetchError{Op: op, Ticker: ticker, Err: err})
			return
		}

		// newest first on the wire
		for _, row := range slices.Backward(rows) {
			p, err := intradayRow(ticker, row, cols, loc)
			if !yield(p, err) {
				return
			}
		}
	}
}

func intradayRow(ticker string, row []string, cols map[string]int, loc *time.Location) (models.IntradayPrice, error) {
	raw := field(row, cols, "timestamp")
	ts, err := time.ParseInLocation(time.DateTime, raw, loc)
	if err != nil {
		return models.IntradayPrice{}, fmt.Errorf("%w: %s timestamp %q", models.ErrMalformed, ticker, raw)
	}
	var p numberParser
	price := models.IntradayPrice{
		Symbol:    ticker,
		Timestamp: ts.UTC(),
		Bar: models.Bar{
			Open:   p.float("open", field(row, cols, "open")),
			High:   p.float("high", field(row, cols, "high")),
			Low:    p.float("low", field(row, cols, "low")),
			Close:  p.float("close", field(row, cols, "close")),
			Volume: p.int("volume", field(row, cols, "volume")),
		},
	}
	if p.err != nil {
		return models.IntradayPrice{}, fmt.Errorf("%s: %w", ticker, p.err)
	}
	return price, nil
}

// Daily fetches the daily bars of ticker, oldest first.
func (f *Fetcher) Daily(ctx context.Context, ticker string) iter.Seq2[models.SummaryPrice, error] {
	return func(yield func(models.SummaryPrice, error) bool) {
		params := url.Values{
			"function": {"TIME_SERIES_DAILY"},
			"symbol":   {ticker},
			"datatype": {"json"},
		}
		body, err := f.get(ctx, "daily", ticker, params)
		if err != nil {
			yield(models.SummaryPrice{}, err)
			return
		}

		var resp struct {
			Series map[string]map[string]string `json:"Time Series (Daily)"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			f.evict("daily", params)
			yield(models.SummaryPrice{}, &FetchError{Op: "daily", Ticker: ticker, Err: fmt.Errorf("failed to decode response: %w", err)})
			return
		}
		if len(resp.Series) == 0 {
			f.evict("daily", params)
			yield(models.SummaryPrice{}, &FetchError{Op: "daily", Ticker: ticker, Err: ErrNoData})
			return
		}

		dates := make([]string, 0, len(resp.Series))
		for d := range resp.Series {
			dates = append(dates, d)
		}
		slices.Sort(dates)

		for _, d := range dates {
			bar := resp.Series[d]
			var p numberParser
			price := models.SummaryPrice{
				Symbol: ticker,
				Date:   p.date("date", d),
				Bar: models.Bar{
					Open:   p.float("open", bar["1. open"]),
					High:   p.float("high", bar["2. high"]),
					Low:    p.float("low", bar["3. low"]),
					Close:  p.float("close", bar["4. close"]),
					Volume: p.int("volume", bar["5. volume"]),
				},
			}
			if p.err != nil {
				if !yield(models.SummaryPrice{}, fmt.Errorf("%s: %w", ticker, p.err)) {
					return
				}
				continue
			}
			if !yield(price, nil) {
				return
			}
		}
	}
}

// Overview fetches company fundamentals for ticker.
func (f *Fetcher) Overview(ctx context.Context, ticker string) (models.CompanyOverview, error) {
	params := url.Values{
		"function": {"OVERVIEW"},
		"symbol":   {ticker},
	}
	body, err := f.get(ctx, "overview", ticker, params)
	if err != nil {
		return models.CompanyOverview{}, err
	}

	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		f.evict("overview", params)
		return models.CompanyOverview{}, &FetchError{Op: "overview", Ticker: ticker, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if m["Symbol"] == "" {
		f.evict("overview", params)
		return models.CompanyOverview{}, &FetchError{Op: "overview", Ticker: ticker, Err: ErrNoData}
	}

	var p numberParser
	ov := models.CompanyOverview{
		Overview: models.Overview{
			Symbol:               strings.ToUpper(m["Symbol"]),
			Name:                 m["Name"],
			Description:          m["Description"],
			CIK:                  m["CIK"],
			Exchange:             m["Exchange"],
			Currency:             m["Currency"],
			Country:              m["Country"],
			Sector:               m["Sector"],
			Industry:             m["Industry"],
			Address:              m["Address"],
			FiscalYearEnd:        m["FiscalYearEnd"],
			LatestQuarter:        p.date("LatestQuarter", m["LatestQuarter"]),
			MarketCapitalization: p.int("MarketCapitalization", m["MarketCapitalization"]),
			EBITDA:               p.int("EBITDA", m["EBITDA"]),
			PERatio:              p.float("PERatio", m["PERatio"]),
			PEGRatio:             p.float("PEGRatio", m["PEGRatio"]),
			BookValue:            p.float("BookValue", m["BookValue"]),
			DividendPerShare:     p.float("DividendPerShare", m["DividendPerShare"]),
			DividendYield:        p.float("DividendYield", m["DividendYield"]),
			EPS:                  p.float("EPS", m["EPS"]),
		},
		Ext: models.OverviewExt{
			RevenuePerShareTTM:         p.float("RevenuePerShareTTM", m["RevenuePerShareTTM"]),
			ProfitMargin:               p.float("ProfitMargin", m["ProfitMargin"]),
			OperatingMarginTTM:         p.float("OperatingMarginTTM", m["OperatingMarginTTM"]),
			ReturnOnAssetsTTM:          p.float("ReturnOnAssetsTTM", m["ReturnOnAssetsTTM"]),
			ReturnOnEquityTTM:          p.float("ReturnOnEquityTTM", m["ReturnOnEquityTTM"]),
			RevenueTTM:                 p.int("RevenueTTM", m["RevenueTTM"]),
			GrossProfitTTM:             p.int("GrossProfitTTM", m["GrossProfitTTM"]),
			DilutedEPSTTM:              p.float("DilutedEPSTTM", m["DilutedEPSTTM"]),
			QuarterlyEarningsGrowthYOY: p.float("QuarterlyEarningsGrowthYOY", m["QuarterlyEarningsGrowthYOY"]),
			QuarterlyRevenueGrowthYOY:  p.float("QuarterlyRevenueGrowthYOY", m["QuarterlyRevenueGrowthYOY"]),
			AnalystTargetPrice:         p.float("AnalystTargetPrice", m["AnalystTargetPrice"]),
			TrailingPE:                 p.float("TrailingPE", m["TrailingPE"]),
			ForwardPE:                  p.float("ForwardPE", m["ForwardPE"]),
			PriceToSalesRatioTTM:       p.float("PriceToSalesRatioTTM", m["PriceToSalesRatioTTM"]),
			PriceToBookRatio:           p.float("PriceToBookRatio", m["PriceToBookRatio"]),
			EVToRevenue:                p.float("EVToRevenue", m["EVToRevenue"]),
			EVToEBITDA:                 p.float("EVToEBITDA", m["EVToEBITDA"]),
			Beta:                       p.float("Beta", m["Beta"]),
			WeekHigh52:                 p.float("52WeekHigh", m["52WeekHigh"]),
			WeekLow52:                  p.float("52WeekLow", m["52WeekLow"]),
			MovingAverage50:            p.float("50DayMovingAverage", m["50DayMovingAverage"]),
			MovingAverage200:           p.float("200DayMovingAverage", m["200DayMovingAverage"]),
			SharesOutstanding:          p.float("SharesOutstanding", m["SharesOutstanding"]),
			DividendDate:               p.date("DividendDate", m["DividendDate"]),
			ExDividendDate:             p.date("ExDividendDate", m["ExDividendDate"]),
		},
	}
	if p.err != nil {
		f.evict("overview", params)
		return models.CompanyOverview{}, fmt.Errorf("overview %s: %w", ticker, p.err)
	}
	return ov, nil
}

type moverEntry struct {
	Ticker           string `json:"ticker"`
	Price            string `json:"price"`
	ChangeAmount     string `json:"change_amount"`
	ChangePercentage string `json:"change_percentage"`
	Volume           string `json:"volume"`
}

// TopMovers fetches the day's top gainers, losers and most actively traded
// securities.
func (f *Fetcher) TopMovers(ctx context.Context) iter.Seq2[models.TopStat, error] {
	return func(yield func(models.TopStat, error) bool) {
		params := url.Values{"function": {"TOP_GAINERS_LOSERS"}}
		body, err := f.get(ctx, "top_movers", "", params)
		if err != nil {
			yield(models.TopStat{}, err)
			return
		}

		var resp struct {
			LastUpdated string       `json:"last_updated"`
			Gainers     []moverEntry `json:"top_gainers"`
			Losers      []moverEntry `json:"top_losers"`
			Active      []moverEntry `json:"most_actively_traded"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			f.evict("top_movers", params)
			yield(models.TopStat{}, &FetchError{Op: "top_movers", Err: fmt.Errorf("failed to decode response: %w", err)})
			return
		}
		updated, err := parseLastUpdated(resp.LastUpdated)
		if err != nil {
			f.evict("top_movers", params)
			yield(models.TopStat{}, &FetchError{Op: "top_movers", Err: err})
			return
		}

		lists := []struct {
			eventType string
			entries   []moverEntry
		}{
			{models.TopGainer, resp.Gainers},
			{models.TopLoser, resp.Losers},
			{models.TopActive, resp.Active},
		}
		for _, l := range lists {
			for _, e := range l.entries {
				var p numberParser
				stat := models.TopStat{
					Date:        models.Day(updated),
					EventType:   l.eventType,
					Symbol:      strings.ToUpper(strings.TrimSpace(e.Ticker)),
					Price:       p.float("price", e.Price),
					ChangeVal:   p.float("change_amount", e.ChangeAmount),
					ChangePct:   p.float("change_percentage", e.ChangePercentage),
					Volume:      p.int("volume", e.Volume),
					LastUpdated: updated,
				}
				if p.err != nil {
					if !yield(models.TopStat{}, fmt.Errorf("%s %s: %w", l.eventType, e.Ticker, p.err)) {
						return
					}
					continue
				}
				if !yield(stat, nil) {
					return
				}
			}
		}
	}
}

const newsTimeLayout = "20060102T150405"

type newsResponse struct {
	Items                    string     `json:"items"`
	SentimentScoreDefinition string     `json:"sentiment_score_definition"`
	RelevanceScoreDefinition string     `json:"relevance_score_definition"`
	Feed                     []newsFeed `json:"feed"`
}

type newsFeed struct {
	Title                 string          `json:"title"`
	URL                   string          `json:"url"`
	TimePublished         string          `json:"time_published"`
	Authors               []string        `json:"authors"`
	Summary               string          `json:"summary"`
	BannerImage           string          `json:"banner_image"`
	Source                string          `json:"source"`
	CategoryWithinSource  string          `json:"category_within_source"`
	SourceDomain          string          `json:"source_domain"`
	OverallSentimentScore decimal.Decimal `json:"overall_sentiment_score"`
	OverallSentimentLabel string          `json:"overall_sentiment_label"`
	Topics                []struct {
		Topic          string          `json:"topic"`
		RelevanceScore decimal.Decimal `json:"relevance_score"`
	} `json:"topics"`
	TickerSentiment []struct {
		Ticker               string          `json:"ticker"`
		RelevanceScore       decimal.Decimal `json:"relevance_score"`
		TickerSentimentScore decimal.Decimal `json:"ticker_sentiment_score"`
		TickerSentimentLabel string          `json:"ticker_sentiment_label"`
	} `json:"ticker_sentiment"`
}

// News fetches the latest news and sentiment feed for ticker. Items whose
// publish time cannot be read keep a zero time and are rejected when stored.
func (f *Fetcher) News(ctx context.Context, ticker string) (models.NewsBatch, error) {
	params := url.Values{
		"function": {"NEWS_SENTIMENT"},
		"tickers":  {ticker},
	}
	body, err := f.get(ctx, "news", ticker, params)
	if err != nil {
		return models.NewsBatch{}, err
	}

	var resp newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		f.evict("news", params)
		return models.NewsBatch{}, &FetchError{Op: "news", Ticker: ticker, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	batch := models.NewsBatch{
		Ticker:                   ticker,
		SentimentScoreDefinition: resp.SentimentScoreDefinition,
		RelevanceScoreDefinition: resp.RelevanceScoreDefinition,
		FetchedAt:                time.Now().UTC(),
		Feed:                     make([]models.NewsItem, 0, len(resp.Feed)),
	}
	batch.Items, err = strconv.Atoi(strings.TrimSpace(resp.Items))
	if err != nil {
		batch.Items = len(resp.Feed)
	}

	for _, fd := range resp.Feed {
		item := models.NewsItem{
			Article: models.RawArticle{
				Title:        fd.Title,
				URL:          fd.URL,
				Authors:      fd.Authors,
				Summary:      fd.Summary,
				BannerImage:  fd.BannerImage,
				Source:       fd.Source,
				Category:     fd.CategoryWithinSource,
				SourceDomain: fd.SourceDomain,
			},
			OverallScore: fd.OverallSentimentScore.InexactFloat64(),
			OverallLabel: fd.OverallSentimentLabel,
		}
		if ts, err := time.ParseInLocation(newsTimeLayout, fd.TimePublished, f.loc); err == nil {
			item.Article.TimePublished = ts.UTC()
		}
		for _, t := range fd.Topics {
			item.Topics = append(item.Topics, models.TopicScore{Topic: t.Topic, RelevanceScore: t.RelevanceScore.InexactFloat64()})
		}
		for _, ts := range fd.TickerSentiment {
			item.TickerSentiments = append(item.TickerSentiments, models.TickerSentiment{
				Ticker:         ts.Ticker,
				RelevanceScore: ts.RelevanceScore.InexactFloat64(),
				SentimentScore: ts.TickerSentimentScore.InexactFloat64(),
				SentimentLabel: ts.TickerSentimentLabel,
			})
		}
		batch.Feed = append(batch.Feed, item)
	}
	return batch, nil
}
