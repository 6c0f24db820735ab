package reconcile

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
	"github.com/dtnitsch/mktdata-loader/pkg/dedup"
	"github.com/dtnitsch/mktdata-loader/pkg/normalize"
	"github.com/dtnitsch/mktdata-loader/pkg/relmap"
)

// NewsRecord is one tagged news item together with the batch it came in.
type NewsRecord struct {
	Sid          int64
	Ticker       string
	BatchHash    string
	BatchItems   int
	SentimentDef string
	RelevanceDef string
	FetchedAt    time.Time
	dedup.Tagged
}

// NewsRecords tags a fetched batch and expands it into records.
func NewsRecords(batch models.NewsBatch) []NewsRecord {
	tagged := dedup.Tag(batch.Feed)

	hashes := make([]dedup.ContentHash, 0, len(tagged))
	for _, t := range tagged {
		if t.Err == nil {
			hashes = append(hashes, t.Hash)
		}
	}
	batchHash := dedup.BatchHash(hashes)

	records := make([]NewsRecord, len(tagged))
	for i, t := range tagged {
		records[i] = NewsRecord{
			Sid:          batch.Sid,
			Ticker:       batch.Ticker,
			BatchHash:    batchHash,
			BatchItems:   len(batch.Feed),
			SentimentDef: batch.SentimentScoreDefinition,
			RelevanceDef: batch.RelevanceScoreDefinition,
			FetchedAt:    batch.FetchedAt,
			Tagged:       t,
		}
	}
	return records
}

// NewsApplier stores a news item: source, author, the article itself
// (reserved by content hash), the symbol's feed row and the feed's
// associations, all in the record's transaction.
//
// A feed seen for the first time counts as inserted. A feed already stored
// from an earlier batch is rescored and its associations replaced, which
// counts as updated. A second valid copy in the same batch finds its feed
// already on this batch's overview and is a skip.
type NewsApplier struct {
	Normalizer *normalize.Normalizer
	Lookup     *relmap.Lookup
	Logger     *slog.Logger
	Now        func() time.Time
}

// Key routes by article identity so concurrent items never race for the
// same article row.
func (NewsApplier) Key(r NewsRecord) string { return r.Hash.String() }

func (a NewsApplier) Apply(ctx context.Context, conn *db.Conn, r NewsRecord) (Action, error) {
	if r.Err != nil {
		return Skipped, malformed("%v", r.Err)
	}

	article := r.Item.Article
	if a.Normalizer != nil {
		article = a.Normalizer.Article(article)
	}
	if article.Source == "" {
		return Skipped, malformed("article %s without source", r.Hash)
	}
	if article.TimePublished.IsZero() {
		return Skipped, malformed("article %s without publish time", r.Hash)
	}

	sid, err := resolveSid(ctx, conn, r.Sid, r.Ticker)
	if err != nil {
		return Skipped, err
	}

	sourceID, err := conn.SourceID(ctx, article.Source, article.SourceDomain)
	if err != nil {
		return Skipped, err
	}

	var authorID sql.NullInt64
	if authors := relmap.Authors(article.Authors); len(authors) > 0 {
		id, err := conn.AuthorID(ctx, authors[0])
		if err != nil {
			return Skipped, err
		}
		authorID = sql.NullInt64{Int64: id, Valid: true}
	}

	created := r.FetchedAt
	if created.IsZero() {
		created = clock(a.Now)
	}
	overviewID, _, err := conn.EnsureNewsOverview(ctx, sid, r.BatchItems, r.BatchHash, r.SentimentDef, r.RelevanceDef, created)
	if err != nil {
		return Skipped, err
	}

	articleID, outcome, err := dedup.Reserve(ctx, conn, r.Hash, &db.Article{
		SourceID:  sourceID,
		Category:  article.Category,
		Title:     article.Title,
		URL:       article.URL,
		Summary:   article.Summary,
		Banner:    article.BannerImage,
		AuthorID:  authorID,
		Published: article.TimePublished,
		Lang:      article.Language,
	})
	if err != nil {
		return Skipped, err
	}
	if articleID == 0 {
		// Reserved by a concurrent writer whose row is not visible here
		return Skipped, ErrDuplicate
	}
	if a.Logger != nil {
		a.Logger.Debug("article reserved", "hash", r.Hash, "article_id", articleID, "outcome", outcome)
	}

	feedID, result, err := conn.UpsertFeed(ctx, &db.Feed{
		Sid:            sid,
		NewsOverviewID: overviewID,
		ArticleID:      articleID,
		SourceID:       sourceID,
		Sentiment:      r.Item.OverallScore,
		SentimentLabel: r.Item.OverallLabel,
	})
	if err != nil {
		return Skipped, err
	}
	if result == db.FeedUnchanged {
		return Skipped, nil
	}

	res, err := relmap.Attach(ctx, conn, sid, feedID, article.Authors, r.Item.Topics, r.Item.TickerSentiments, a.Lookup, a.Logger)
	if err != nil {
		return Skipped, err
	}
	if res.Dropped > 0 && a.Logger != nil {
		a.Logger.Debug("ticker sentiments dropped", "feed_id", feedID, "dropped", res.Dropped)
	}

	if result == db.FeedInserted {
		return Inserted, nil
	}
	return Updated, nil
}
