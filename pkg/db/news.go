package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Article is a stored article row. HashID is its content identity.
type Article struct {
	ID        int64
	HashID    int64
	SourceID  int64
	Category  string
	Title     string
	URL       string
	Summary   string
	Banner    string
	AuthorID  sql.NullInt64
	Published time.Time
	Lang      string
}

// Feed links a symbol to an article within one news overview batch.
type Feed struct {
	ID             int64
	Sid            int64
	NewsOverviewID int64
	ArticleID      int64
	SourceID       int64
	Sentiment      float64
	SentimentLabel string
}

// FeedResult says what UpsertFeed did with the row.
type FeedResult int

const (
	FeedInserted FeedResult = iota
	FeedUpdated
	FeedUnchanged
)

// getOrCreate inserts a row into a name-keyed lookup table and returns its
// id, or the id of the row that already holds the name.
func (c *Conn) getOrCreate(ctx context.Context, insert, lookup string, args ...any) (int64, error) {
	var id int64
	err := c.QueryRow(ctx, insert, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := c.QueryRow(ctx, lookup, args[0]).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SourceID returns the id of the named source, creating it if needed.
func (c *Conn) SourceID(ctx context.Context, name, domain string) (int64, error) {
	id, err := c.getOrCreate(ctx,
		"INSERT INTO sources (source_name, domain) VALUES (?, ?) ON CONFLICT (source_name) DO NOTHING RETURNING id",
		"SELECT id FROM sources WHERE source_name = ?",
		name, domain)
	if err != nil {
		return 0, fmt.Errorf("failed to get source %q: %w", name, err)
	}
	return id, nil
}

// AuthorID returns the id of the named author, creating it if needed.
func (c *Conn) AuthorID(ctx context.Context, name string) (int64, error) {
	id, err := c.getOrCreate(ctx,
		"INSERT INTO authors (author_name) VALUES (?) ON CONFLICT (author_name) DO NOTHING RETURNING id",
		"SELECT id FROM authors WHERE author_name = ?",
		name)
	if err != nil {
		return 0, fmt.Errorf("failed to get author %q: %w", name, err)
	}
	return id, nil
}

// TopicID returns the id of the named topic, adding it to the vocabulary if
// the provider introduced a new one.
func (c *Conn) TopicID(ctx context.Context, name string) (int64, error) {
	id, err := c.getOrCreate(ctx,
		"INSERT INTO topicrefs (name) VALUES (?) ON CONFLICT (name) DO NOTHING RETURNING id",
		"SELECT id FROM topicrefs WHERE name = ?",
		name)
	if err != nil {
		return 0, fmt.Errorf("failed to get topic %q: %w", name, err)
	}
	return id, nil
}

// ArticleIDByHash looks up an article by content hash.
func (c *Conn) ArticleIDByHash(ctx context.Context, hash int64) (id int64, ok bool, err error) {
	err = c.QueryRow(ctx, "SELECT id FROM articles WHERE hashid = ?", hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up article %d: %w", hash, err)
	}
	return id, true, nil
}

// InsertArticle inserts a unless its hash is already stored. inserted is
// false when the hash existed; id is then the stored article's id.
func (c *Conn) InsertArticle(ctx context.Context, a *Article) (id int64, inserted bool, err error) {
	err = c.QueryRow(ctx, `
		INSERT INTO articles (hashid, sourceid, category, title, url, summary, banner, author, ct, lang)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hashid) DO NOTHING
		RETURNING id
	`, a.HashID, a.SourceID, a.Category, a.Title, a.URL, a.Summary, a.Banner, a.AuthorID,
		a.Published.UTC(), a.Lang).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !IsUniqueViolation(err) {
		return 0, false, fmt.Errorf("failed to insert article %d: %w", a.HashID, err)
	}

	id, ok, err := c.ArticleIDByHash(ctx, a.HashID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, fmt.Errorf("article %d conflicted but is not visible: %w", a.HashID, ErrNotFound)
	}
	return id, false, nil
}

// EnsureNewsOverview returns the newsoverview row for (hashid, sid), creating
// it on first sight of the batch.
func (c *Conn) EnsureNewsOverview(ctx context.Context, sid int64, items int, hashid, sentimentDef, relevanceDef string, created time.Time) (id int64, inserted bool, err error) {
	err = c.QueryRow(ctx, `
		INSERT INTO newsoverviews (sid, items, hashid, sentiment_def, relevance_def, creation)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (hashid, sid) DO NOTHING
		RETURNING id
	`, sid, items, hashid, sentimentDef, relevanceDef, created.UTC()).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to insert news overview for %d: %w", sid, err)
	}
	err = c.QueryRow(ctx, "SELECT id FROM newsoverviews WHERE hashid = ? AND sid = ?", hashid, sid).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get news overview for %d: %w", sid, err)
	}
	return id, false, nil
}

// UpsertFeed stores f keyed by (sid, articleid). A feed first stored by a
// different news overview is moved to f's overview and rescored; one stored
// by the same overview is left as is.
func (c *Conn) UpsertFeed(ctx context.Context, f *Feed) (id int64, result FeedResult, err error) {
	var overviewID int64
	err = c.QueryRow(ctx, "SELECT id, newsoverviewid FROM feeds WHERE sid = ? AND articleid = ?",
		f.Sid, f.ArticleID).Scan(&id, &overviewID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = c.QueryRow(ctx, `
			INSERT INTO feeds (sid, newsoverviewid, articleid, sourceid, osentiment, sentlabel)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (sid, articleid) DO NOTHING
			RETURNING id
		`, f.Sid, f.NewsOverviewID, f.ArticleID, f.SourceID, f.Sentiment, f.SentimentLabel).Scan(&id)
		if err != nil {
			return 0, FeedUnchanged, fmt.Errorf("failed to insert feed %d/%d: %w", f.Sid, f.ArticleID, err)
		}
		return id, FeedInserted, nil
	case err != nil:
		return 0, FeedUnchanged, fmt.Errorf("failed to look up feed %d/%d: %w", f.Sid, f.ArticleID, err)
	}

	if overviewID == f.NewsOverviewID {
		return id, FeedUnchanged, nil
	}

	_, err = c.Exec(ctx, `
		UPDATE feeds SET newsoverviewid = ?, sourceid = ?, osentiment = ?, sentlabel = ?
		WHERE id = ?
	`, f.NewsOverviewID, f.SourceID, f.Sentiment, f.SentimentLabel, id)
	if err != nil {
		return 0, FeedUnchanged, fmt.Errorf("failed to update feed %d: %w", id, err)
	}
	return id, FeedUpdated, nil
}

// DeleteFeedAssociations removes every association row owned by a feed.
func (c *Conn) DeleteFeedAssociations(ctx context.Context, feedID int64) error {
	for _, table := range []string{"authormaps", "topicmaps", "tickersentiments"} {
		if _, err := c.Exec(ctx, "DELETE FROM "+table+" WHERE feedid = ?", feedID); err != nil {
			return fmt.Errorf("failed to clear %s for feed %d: %w", table, feedID, err)
		}
	}
	return nil
}

func (c *Conn) InsertAuthorMap(ctx context.Context, feedID, authorID int64) error {
	_, err := c.Exec(ctx, "INSERT INTO authormaps (feedid, authorid) VALUES (?, ?)", feedID, authorID)
	if err != nil {
		return fmt.Errorf("failed to map author %d to feed %d: %w", authorID, feedID, err)
	}
	return nil
}

func (c *Conn) InsertTopicMap(ctx context.Context, sid, feedID, topicID int64, relevance float64) error {
	_, err := c.Exec(ctx, "INSERT INTO topicmaps (sid, feedid, topicid, relscore) VALUES (?, ?, ?, ?)",
		sid, feedID, topicID, relevance)
	if err != nil {
		return fmt.Errorf("failed to map topic %d to feed %d: %w", topicID, feedID, err)
	}
	return nil
}

func (c *Conn) InsertTickerSentiment(ctx context.Context, feedID, sid int64, relevance, sentiment float64, label string) error {
	_, err := c.Exec(ctx, `
		INSERT INTO tickersentiments (feedid, sid, relevance, tsentiment, sentimentlabel)
		VALUES (?, ?, ?, ?, ?)
	`, feedID, sid, relevance, sentiment, label)
	if err != nil {
		return fmt.Errorf("failed to add ticker sentiment %d to feed %d: %w", sid, feedID, err)
	}
	return nil
}
