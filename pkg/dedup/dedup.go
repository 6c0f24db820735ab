// Package dedup derives content identities for externally published articles
// and reserves them in storage so that each article is stored once.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/dtnitsch/mktdata-loader/models"
	"github.com/dtnitsch/mktdata-loader/pkg/db"
)

// ContentHash is the 64-bit content identity of an article.
type ContentHash int64

func (h ContentHash) String() string {
	return strconv.FormatUint(uint64(h), 16)
}

// ErrNoIdentity is returned for articles lacking a usable URL.
var ErrNoIdentity = errors.New("article has no identifying url")

// Outcome of a reservation.
type Outcome int

const (
	New Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "new"
}

// CanonicalURL normalizes an article URL so that trivially different
// spellings of the same address compare equal.
func CanonicalURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrNoIdentity
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, ErrNoIdentity)
	}

	// Always use HTTPS
	if u.Scheme == "http" || u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	// Sort query parameters alphabetically
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	// Strip fragment
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// Identify returns the content hash of an article. Only the source name and
// canonical URL take part, so re-fetches at different times, with edited
// titles or new sentiment scores, resolve to the same hash.
func Identify(a models.RawArticle) (ContentHash, error) {
	canonical, err := CanonicalURL(a.URL)
	if err != nil {
		return 0, err
	}
	source := strings.ToLower(strings.TrimSpace(a.Source))

	sum := sha256.Sum256([]byte(source + "\x00" + canonical))
	return ContentHash(binary.BigEndian.Uint64(sum[:8])), nil
}

// IsKnown reports whether an article with hash h is already stored.
func IsKnown(ctx context.Context, conn *db.Conn, h ContentHash) (bool, error) {
	_, ok, err := conn.ArticleIDByHash(ctx, int64(h))
	return ok, err
}

// Reserve stores article under hash h unless another writer got there
// first. Losing the race is not an error: the outcome is Duplicate and id is
// the winner's article id.
func Reserve(ctx context.Context, conn *db.Conn, h ContentHash, article *db.Article) (id int64, outcome Outcome, err error) {
	article.HashID = int64(h)
	id, inserted, err := conn.InsertArticle(ctx, article)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, Duplicate, nil
		}
		return 0, New, fmt.Errorf("failed to reserve article %s: %w", h, err)
	}
	if !inserted {
		return id, Duplicate, nil
	}
	return id, New, nil
}

// Tagged is a fetched news item with its identity.
type Tagged struct {
	Item models.NewsItem
	Hash ContentHash
	Err  error
}

// Tag identifies every item of a fetched batch. Items that cannot be
// identified carry Err and are left for the reconciler to count as failed.
// Copies of one article within a batch share a hash; which of them is
// stored is decided in storage, after validation.
func Tag(items []models.NewsItem) []Tagged {
	tagged := make([]Tagged, 0, len(items))
	for _, item := range items {
		h, err := Identify(item.Article)
		tagged = append(tagged, Tagged{Item: item, Hash: h, Err: err})
	}
	return tagged
}

// BatchHash identifies a fetch batch by the set of article hashes in it.
// Order and repeats do not matter.
func BatchHash(hashes []ContentHash) string {
	sorted := slices.Clone(hashes)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	h := sha256.New()
	buf := make([]byte, 8)
	for _, v := range sorted {
		binary.BigEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
