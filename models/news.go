package models

import "time"

// NewsBatch is one news/sentiment fetch for a symbol.
type NewsBatch struct {
	Sid                      int64      `json:"sid"`
	Ticker                   string     `json:"ticker"`
	Items                    int        `json:"items"`
	SentimentScoreDefinition string     `json:"sentiment_score_definition"`
	RelevanceScoreDefinition string     `json:"relevance_score_definition"`
	Feed                     []NewsItem `json:"feed"`
	FetchedAt                time.Time  `json:"fetched_at"`
}

// NewsItem is one article in a news feed together with its sentiment scores
// for the fetched symbol.
type NewsItem struct {
	Article          RawArticle        `json:"article"`
	Topics           []TopicScore      `json:"topics"`
	TickerSentiments []TickerSentiment `json:"ticker_sentiment"`
	OverallScore     float64           `json:"overall_sentiment_score"`
	OverallLabel     string            `json:"overall_sentiment_label"`
}

// RawArticle is the externally published piece as the provider describes it.
type RawArticle struct {
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	TimePublished time.Time `json:"time_published"`
	Authors       []string  `json:"authors"`
	Summary       string    `json:"summary"`
	BannerImage   string    `json:"banner_image"`
	Source        string    `json:"source"`
	Category      string    `json:"category_within_source"`
	SourceDomain  string    `json:"source_domain"`
	Language      string    `json:"language,omitempty"`
}

// TopicScore links an article to a topic from the topic vocabulary.
type TopicScore struct {
	Topic          string  `json:"topic"`
	RelevanceScore float64 `json:"relevance_score"`
}

// TickerSentiment is the per-ticker relevance and sentiment of an article.
type TickerSentiment struct {
	Ticker         string  `json:"ticker"`
	RelevanceScore float64 `json:"relevance_score"`
	SentimentScore float64 `json:"ticker_sentiment_score"`
	SentimentLabel string  `json:"ticker_sentiment_label"`
}

// Topics is the provider's topic vocabulary, seeded into topicrefs.
var Topics = []string{
	"Blockchain",
	"Earnings",
	"IPO",
	"Mergers & Acquisitions",
	"Financial Markets",
	"Economy - Fiscal",
	"Economy - Monetary",
	"Economy - Macro",
	"Energy & Transportation",
	"Finance",
	"Life Sciences",
	"Manufacturing",
	"Real Estate & Construction",
	"Retail & Wholesale",
	"Technology",
}
