// Package relmap maintains the association rows owned by a news feed:
// authors, topics and per-ticker sentiment.
package relmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

// ErrMalformed marks an association that cannot be stored as given.
var ErrMalformed = models.ErrMalformed

// Lookup caches name to id resolution across the feeds of one job. A nil
// *Lookup resolves straight from storage.
type Lookup struct {
	Symbols map[string]int64
}

// Result counts what Attach wrote.
type Result struct {
	Authors    int
	Topics     int
	Sentiments int
	Dropped    int // ticker sentiments for unknown tickers
}

// Authors trims author names and drops blanks and repeats, keeping order.
func Authors(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Attach replaces the association set of feedID: previous author, topic and
// ticker sentiment rows are removed and the given ones inserted. conn must be
// the transaction that upserted the feed; any error leaves it to the caller
// to roll back, so a feed never ends up with part of a set.
func Attach(ctx context.Context, conn *db.Conn, sid, feedID int64, authors []string, topics []models.TopicScore, sentiments []models.TickerSentiment, lookup *Lookup, logger *slog.Logger) (Result, error) {
	var res Result

	if err := conn.DeleteFeedAssociations(ctx, feedID); err != nil {
		return res, err
	}

	for _, name := range Authors(authors) {
		authorID, err := conn.AuthorID(ctx, name)
		if err != nil {
			return res, err
		}
		if err := conn.InsertAuthorMap(ctx, feedID, authorID); err != nil {
			return res, err
		}
		res.Authors++
	}

	for _, topic := range topics {
		name := strings.TrimSpace(topic.Topic)
		if name == "" {
			return res, fmt.Errorf("feed %d: empty topic name: %w", feedID, ErrMalformed)
		}
		topicID, err := conn.TopicID(ctx, name)
		if err != nil {
			return res, err
		}
		if err := conn.InsertTopicMap(ctx, sid, feedID, topicID, topic.RelevanceScore); err != nil {
			return res, err
		}
		res.Topics++
	}

	for _, ts := range sentiments {
		ticker := strings.ToUpper(strings.TrimSpace(ts.Ticker))
		if ticker == "" {
			return res, fmt.Errorf("feed %d: empty sentiment ticker: %w", feedID, ErrMalformed)
		}

		tsid, ok, err := lookup.symbolSid(ctx, conn, ticker)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Dropped++
			if logger != nil {
				logger.Debug("dropping sentiment for unknown ticker", "feed_id", feedID, "ticker", ticker)
			}
			continue
		}

		if err := conn.InsertTickerSentiment(ctx, feedID, tsid, ts.RelevanceScore, ts.SentimentScore, ts.SentimentLabel); err != nil {
			return res, err
		}
		res.Sentiments++
	}

	return res, nil
}

func (l *Lookup) symbolSid(ctx context.Context, conn *db.Conn, ticker string) (int64, bool, error) {
	if l != nil && l.Symbols != nil {
		sid, ok := l.Symbols[ticker]
		return sid, ok, nil
	}
	sym, err := conn.GetSymbol(ctx, ticker)
	if errors.Is(err, db.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return sym.Sid, true, nil
}
