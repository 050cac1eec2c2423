// Package articles keeps the durable set of observed article texts and the
// in-memory "last" text the publish loop compares against.
package articles

import (
	"context"
	"sync"
	"time"

	"newsbot/internal/storage"
)

// Store is owned by the publish loop. Other readers go through Latest,
// which always reads durable state.
type Store struct {
	repo storage.ArticleRepo
	now  func() time.Time

	mu     sync.RWMutex
	last   string
	loaded bool
}

func New(repo storage.ArticleRepo) *Store {
	return &Store{repo: repo, now: time.Now}
}

// Load primes Last from the newest stored article.
func (s *Store) Load(ctx context.Context) error {
	a, ok, err := s.repo.LatestArticle(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if ok {
		s.last = a.Text
	}
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Ensure calls Load once.
func (s *Store) Ensure(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Load(ctx)
}

// Novel reports whether text differs from the last observed article.
// It is a cheap pre-check; Add is the authority on uniqueness.
func (s *Store) Novel(text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return text != s.last
}

// Add stores text. added=false means the text was already stored.
// Last is updated only after a successful insert.
func (s *Store) Add(ctx context.Context, text string) (int64, bool, error) {
	id, added, err := s.repo.InsertArticle(ctx, text, s.now())
	if err != nil || !added {
		return 0, false, err
	}
	s.mu.Lock()
	s.last = text
	s.mu.Unlock()
	return id, true, nil
}

// Last returns the cached newest text.
func (s *Store) Last() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.last != ""
}

// Latest reads the newest article from storage.
func (s *Store) Latest(ctx context.Context) (storage.Article, bool, error) {
	return s.repo.LatestArticle(ctx)
}
