package models

import "time"

// Symbol is a listed security. Sid is assigned on first insert; the ticker is
// the natural key.
type Symbol struct {
	Sid         int64        `json:"sid" yaml:"sid"`
	Symbol      string       `json:"symbol" yaml:"symbol"`
	Name        string       `json:"name" yaml:"name"`
	SecType     SecurityType `json:"sec_type" yaml:"sec_type"`
	Region      string       `json:"region" yaml:"region"`
	MarketOpen  string       `json:"market_open" yaml:"market_open"`   // HH:MM, venue local
	MarketClose string       `json:"market_close" yaml:"market_close"` // HH:MM, venue local
	Timezone    string       `json:"timezone" yaml:"timezone"`
	Currency    string       `json:"currency" yaml:"currency"`

	// Domain flags, set once the corresponding loader has stored data.
	Overview bool `json:"overview" yaml:"overview"`
	Intraday bool `json:"intraday" yaml:"intraday"`
	Summary  bool `json:"summary" yaml:"summary"`
}

// SymbolFlag selects one of the per-symbol "domain loaded" flags.
type SymbolFlag string

const (
	FlagOverview SymbolFlag = "overview"
	FlagIntraday SymbolFlag = "intraday"
	FlagSummary  SymbolFlag = "summary"
)

// Overview holds company fundamentals, one row per sid.
type Overview struct {
	Sid                  int64     `json:"sid"`
	Symbol               string    `json:"symbol"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	CIK                  string    `json:"cik"`
	Exchange             string    `json:"exchange"`
	Currency             string    `json:"currency"`
	Country              string    `json:"country"`
	Sector               string    `json:"sector"`
	Industry             string    `json:"industry"`
	Address              string    `json:"address"`
	FiscalYearEnd        string    `json:"fiscal_year_end"`
	LatestQuarter        time.Time `json:"latest_quarter"`
	MarketCapitalization int64     `json:"market_capitalization"`
	EBITDA               int64     `json:"ebitda"`
	PERatio              float64   `json:"pe_ratio"`
	PEGRatio             float64   `json:"peg_ratio"`
	BookValue            float64   `json:"book_value"`
	DividendPerShare     float64   `json:"dividend_per_share"`
	DividendYield        float64   `json:"dividend_yield"`
	EPS                  float64   `json:"eps"`
}

// OverviewExt holds valuation metrics that accompany an Overview.
type OverviewExt struct {
	Sid                        int64     `json:"sid"`
	RevenuePerShareTTM         float64   `json:"revenue_per_share_ttm"`
	ProfitMargin               float64   `json:"profit_margin"`
	OperatingMarginTTM         float64   `json:"operating_margin_ttm"`
	ReturnOnAssetsTTM          float64   `json:"return_on_assets_ttm"`
	ReturnOnEquityTTM          float64   `json:"return_on_equity_ttm"`
	RevenueTTM                 int64     `json:"revenue_ttm"`
	GrossProfitTTM             int64     `json:"gross_profit_ttm"`
	DilutedEPSTTM              float64   `json:"diluted_eps_ttm"`
	QuarterlyEarningsGrowthYOY float64   `json:"quarterly_earnings_growth_yoy"`
	QuarterlyRevenueGrowthYOY  float64   `json:"quarterly_revenue_growth_yoy"`
	AnalystTargetPrice         float64   `json:"analyst_target_price"`
	TrailingPE                 float64   `json:"trailing_pe"`
	ForwardPE                  float64   `json:"forward_pe"`
	PriceToSalesRatioTTM       float64   `json:"price_to_sales_ratio_ttm"`
	PriceToBookRatio           float64   `json:"price_to_book_ratio"`
	EVToRevenue                float64   `json:"ev_to_revenue"`
	EVToEBITDA                 float64   `json:"ev_to_ebitda"`
	Beta                       float64   `json:"beta"`
	WeekHigh52                 float64   `json:"week_high_52"`
	WeekLow52                  float64   `json:"week_low_52"`
	MovingAverage50            float64   `json:"moving_average_50"`
	MovingAverage200           float64   `json:"moving_average_200"`
	SharesOutstanding          float64   `json:"shares_outstanding"`
	DividendDate               time.Time `json:"dividend_date"`    // zero when unknown
	ExDividendDate             time.Time `json:"ex_dividend_date"` // zero when unknown
}

// CompanyOverview is what the provider returns for one overview request; both
// halves are reconciled together.
type CompanyOverview struct {
	Overview Overview
	Ext      OverviewExt
}

// Bar is an OHLCV price bar.
type Bar struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// IntradayPrice is one intraday bar; (Timestamp, Sid) is its natural key.
type IntradayPrice struct {
	Sid       int64     `json:"sid"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bar
}

// SummaryPrice is one daily bar; (Date, Sid) is its natural key.
type SummaryPrice struct {
	Sid    int64     `json:"sid"`
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Bar
}

// TopStat event types.
const (
	TopGainer = "gainer"
	TopLoser  = "loser"
	TopActive = "active"
)

// TopStat is a daily top-mover entry; (Date, EventType, Sid) is its natural key.
type TopStat struct {
	Date        time.Time `json:"date"`
	EventType   string    `json:"event_type"`
	Sid         int64     `json:"sid"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	ChangeVal   float64   `json:"change_val"`
	ChangePct   float64   `json:"change_pct"`
	Volume      int64     `json:"volume"`
	LastUpdated time.Time `json:"last_updated"`
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
