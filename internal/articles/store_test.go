package articles

import (
	"context"
	"errors"
	"testing"
	"time"

	"newsbot/internal/storage"
)

type failingRepo struct{ err error }

func (r failingRepo) InsertArticle(context.Context, string, time.Time) (int64, bool, error) {
	return 0, false, r.err
}

func (r failingRepo) LatestArticle(context.Context) (storage.Article, bool, error) {
	return storage.Article{}, false, r.err
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory())

	id, added, err := s.Add(ctx, "A")
	if err != nil || !added || id == 0 {
		t.Fatalf("first Add: id=%d added=%v err=%v", id, added, err)
	}
	for i := 0; i < 3; i++ {
		if _, added, err := s.Add(ctx, "A"); err != nil || added {
			t.Fatalf("repeat Add #%d: added=%v err=%v", i, added, err)
		}
	}
	if last, ok := s.Last(); !ok || last != "A" {
		t.Fatalf("Last = %q, %v", last, ok)
	}
}

func TestNovel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.NewMemory())

	if !s.Novel("A") {
		t.Fatalf("empty store: A should be novel")
	}
	_, _, _ = s.Add(ctx, "A")
	if s.Novel("A") {
		t.Fatalf("A should not be novel after Add")
	}
	if !s.Novel("B") {
		t.Fatalf("B should be novel")
	}
}

func TestLoadPrimesLastFromStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory()
	t0 := time.Unix(1700000000, 0)
	_, _, _ = repo.InsertArticle(ctx, "older", t0)
	_, _, _ = repo.InsertArticle(ctx, "newest", t0.Add(time.Minute))

	s := New(repo)
	if err := s.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if last, _ := s.Last(); last != "newest" {
		t.Fatalf("Last = %q, want newest", last)
	}
	if s.Novel("newest") {
		t.Fatalf("restart must not treat the last stored article as novel")
	}
}

func TestAddStorageFailureKeepsLast(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	s := New(failingRepo{err: boom})
	s.last = "prev"

	if _, added, err := s.Add(context.Background(), "next"); !errors.Is(err, boom) || added {
		t.Fatalf("Add: added=%v err=%v", added, err)
	}
	if last, _ := s.Last(); last != "prev" {
		t.Fatalf("Last changed on failure: %q", last)
	}
}
