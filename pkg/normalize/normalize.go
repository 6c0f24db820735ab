// Package normalize cleans provider text before it is stored: markup is
// stripped from titles and summaries and the article language is detected.
package normalize

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/pemistahl/lingua-go"

	"github.com/dtnitsch/mktdata-loader/models"
)

// Languages the detector distinguishes between. Anything else is reported
// as the closest of these or left empty when confidence is too low.
var detectLanguages = []lingua.Language{
	lingua.English,
	lingua.Spanish,
	lingua.German,
	lingua.French,
	lingua.Japanese,
	lingua.Chinese,
}

// Normalizer is safe for concurrent use. The language models are loaded on
// first use.
type Normalizer struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

func New() *Normalizer {
	return &Normalizer{}
}

// StripHTML returns the text content of s with whitespace collapsed. Input
// without markup comes back trimmed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapse(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapse(s)
	}
	return collapse(doc.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Language returns the lower-case ISO 639-1 code of text, or "" when the
// text is too short or ambiguous.
func (n *Normalizer) Language(text string) string {
	if len(strings.Fields(text)) < 3 {
		return ""
	}
	n.once.Do(func() {
		n.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectLanguages...).
			WithLowAccuracyMode().
			Build()
	})
	lang, ok := n.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// Article returns a copy of a with cleaned title, summary and authors and,
// when the provider did not say, the detected language.
func (n *Normalizer) Article(a models.RawArticle) models.RawArticle {
	a.Title = StripHTML(a.Title)
	a.Summary = StripHTML(a.Summary)
	a.Source = strings.TrimSpace(a.Source)
	a.Category = strings.TrimSpace(a.Category)

	authors := make([]string, 0, len(a.Authors))
	for _, name := range a.Authors {
		if name = collapse(name); name != "" {
			authors = append(authors, name)
		}
	}
	a.Authors = authors

	if a.Language == "" {
		a.Language = n.Language(a.Title + ". " + a.Summary)
	}
	return a
}
