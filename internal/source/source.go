// Package source fetches the news page and extracts its newest article.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrFetch reports a transport failure or a non-2xx response.
	ErrFetch = errors.New("fetch failed")
	// ErrNoArticle reports a page that yielded no article.
	ErrNoArticle = errors.New("no article found")
)

const (
	KindHTML = "html"
	KindFeed = "feed"

	DefaultURL           = "https://www.mujkaktus.cz/novinky"
	DefaultSelector      = "div.journal-content-article"
	DefaultTitleSelector = "h3"
	DefaultBodySelector  = "p"
	DefaultSeparator     = " — "
)

// Fetcher retrieves raw page bytes.
type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// Extractor turns raw page bytes into one normalized article text.
type Extractor interface {
	Extract(raw []byte) (string, bool)
}

type Config struct {
	URL           string
	Kind          string
	Selector      string
	TitleSelector string
	BodySelector  string
	Separator     string
	UserAgent     string
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if c.Kind == "" {
		c.Kind = KindHTML
	}
	if c.Selector == "" {
		c.Selector = DefaultSelector
	}
	if c.TitleSelector == "" {
		c.TitleSelector = DefaultTitleSelector
	}
	if c.BodySelector == "" {
		c.BodySelector = DefaultBodySelector
	}
	if c.Separator == "" {
		c.Separator = DefaultSeparator
	}
	return c
}

// Source pairs a fetcher and an extractor for one URL.
type Source struct {
	URL       string
	Fetcher   Fetcher
	Extractor Extractor
}

// New builds the HTTP source described by cfg.
func New(cfg Config) (*Source, error) {
	cfg = cfg.withDefaults()
	var ex Extractor
	switch strings.ToLower(cfg.Kind) {
	case KindHTML:
		ex = HTMLExtractor{
			Selector:      cfg.Selector,
			TitleSelector: cfg.TitleSelector,
			BodySelector:  cfg.BodySelector,
			Separator:     cfg.Separator,
		}
	case KindFeed:
		ex = FeedExtractor{Separator: cfg.Separator}
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
	return &Source{
		URL:       cfg.URL,
		Fetcher:   NewHTTPFetcher(cfg.Timeout, cfg.UserAgent),
		Extractor: ex,
	}, nil
}

// Latest fetches the page and returns its newest article text.
func (s *Source) Latest(ctx context.Context) (string, error) {
	raw, err := s.Fetcher.Fetch(ctx, s.URL)
	if err != nil {
		return "", err
	}
	text, ok := s.Extractor.Extract(raw)
	if !ok {
		return "", fmt.Errorf("%w at %s", ErrNoArticle, s.URL)
	}
	return text, nil
}

// normalize collapses runs of whitespace so layout changes do not create
// new articles.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func join(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalize(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
