package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "db", "newsbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	out["sqlite"] = sq

	bt, err := Open(Config{Driver: "bolt", Path: filepath.Join(dir, "newsbot.bolt")}, logx.Nop())
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	out["bolt"] = bt

	if dsn := os.Getenv("NEWSBOT_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		out["postgres"] = pg
	}

	t.Cleanup(func() {
		for _, st := range out {
			_ = st.Close()
		}
	})
	return out
}

func TestArticlesAreUniqueByText(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			t0 := time.Unix(1700000000, 0)
			id, added, err := st.InsertArticle(ctx, "A — x", t0)
			if err != nil || !added || id == 0 {
				t.Fatalf("first insert: id=%d added=%v err=%v", id, added, err)
			}
			id2, added, err := st.InsertArticle(ctx, "A — x", t0.Add(time.Hour))
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if added || id2 != 0 {
				t.Fatalf("duplicate insert reported added=%v id=%d", added, id2)
			}

			// Byte-exact comparison: trailing space is a different article.
			if _, added, _ := st.InsertArticle(ctx, "A — x ", t0); !added {
				t.Fatalf("expected near-duplicate text to be stored")
			}
		})
	}
}

func TestLatestArticle(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := st.LatestArticle(ctx); err != nil || ok {
				t.Fatalf("empty store: ok=%v err=%v", ok, err)
			}
			t0 := time.Unix(1700000000, 0)
			_, _, _ = st.InsertArticle(ctx, "old", t0)
			_, _, _ = st.InsertArticle(ctx, "new", t0.Add(time.Minute))
			_, _, _ = st.InsertArticle(ctx, "old", t0.Add(time.Hour)) // duplicate, ignored

			a, ok, err := st.LatestArticle(ctx)
			if err != nil || !ok {
				t.Fatalf("LatestArticle: ok=%v err=%v", ok, err)
			}
			if a.Text != "new" {
				t.Fatalf("latest = %q, want %q", a.Text, "new")
			}
			if !a.ObservedAt.Equal(t0.Add(time.Minute)) {
				t.Fatalf("observed_at = %v", a.ObservedAt)
			}
		})
	}
}

func TestSubscribers(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Unix(1700000000, 0)
			for _, id := range []transport.ChatID{42, -1001, 42} {
				_, _ = st.InsertSubscriber(ctx, id, now)
			}
			added, err := st.InsertSubscriber(ctx, 42, now)
			if err != nil || added {
				t.Fatalf("re-add: added=%v err=%v", added, err)
			}

			subs, err := st.ListSubscribers(ctx)
			if err != nil {
				t.Fatalf("ListSubscribers: %v", err)
			}
			got := make([]transport.ChatID, 0, len(subs))
			for _, s := range subs {
				got = append(got, s.ChatID)
			}
			if diff := cmp.Diff([]transport.ChatID{42, -1001}, got); diff != "" {
				t.Fatalf("subscribers mismatch (-want +got):\n%s", diff)
			}

			if removed, err := st.DeleteSubscriber(ctx, 42); err != nil || !removed {
				t.Fatalf("delete: removed=%v err=%v", removed, err)
			}
			if removed, err := st.DeleteSubscriber(ctx, 42); err != nil || removed {
				t.Fatalf("second delete: removed=%v err=%v", removed, err)
			}
			if added, err := st.InsertSubscriber(ctx, 42, now); err != nil || !added {
				t.Fatalf("re-subscribe: added=%v err=%v", added, err)
			}
		})
	}
}

func TestDeliveriesAreUniquePerPair(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			if _, added, err := st.InsertDelivery(ctx, 1, 7, now); err != nil || !added {
				t.Fatalf("first: added=%v err=%v", added, err)
			}
			if _, added, err := st.InsertDelivery(ctx, 1, 7, now); err != nil || added {
				t.Fatalf("dup: added=%v err=%v", added, err)
			}
			if _, added, err := st.InsertDelivery(ctx, 2, 7, now); err != nil || !added {
				t.Fatalf("other article: added=%v err=%v", added, err)
			}
			if _, added, err := st.InsertDelivery(ctx, 1, 8, now); err != nil || !added {
				t.Fatalf("other subscriber: added=%v err=%v", added, err)
			}
		})
	}
}

func TestConcurrentDeliveryInsertHasOneWinner(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, added, err := st.InsertDelivery(ctx, 99, 5, time.Now())
					if err != nil {
						t.Errorf("InsertDelivery: %v", err)
						return
					}
					if added {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins)
			}
		})
	}
}

func TestConcurrentArticleInsertHasOneWinner(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			text := fmt.Sprintf("Výpadek sítě — Praha %d", time.Now().UnixNano())
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins []int64
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					id, added, err := st.InsertArticle(ctx, text, time.Now())
					if err != nil {
						t.Errorf("InsertArticle: %v", err)
						return
					}
					if added {
						mu.Lock()
						wins = append(wins, id)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if len(wins) != 1 {
				t.Fatalf("expected exactly one winner, got %d", len(wins))
			}
			a, ok, err := st.LatestArticle(ctx)
			if err != nil || !ok {
				t.Fatalf("LatestArticle: ok=%v err=%v", ok, err)
			}
			if a.ID != wins[0] {
				t.Fatalf("stored id = %d, winner id = %d", a.ID, wins[0])
			}
		})
	}
}

func TestCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			if v, err := st.LoadCursor(ctx, "telegram"); err != nil || v != 0 {
				t.Fatalf("initial cursor = %d err=%v", v, err)
			}
			steps := []struct{ in, want int64 }{
				{in: 103, want: 103},
				{in: 101, want: 103},
				{in: 103, want: 103},
				{in: 110, want: 110},
			}
			for _, s := range steps {
				got, err := st.AdvanceCursor(ctx, "telegram", s.in)
				if err != nil {
					t.Fatalf("AdvanceCursor(%d): %v", s.in, err)
				}
				if got != s.want {
					t.Fatalf("AdvanceCursor(%d) = %d, want %d", s.in, got, s.want)
				}
			}
			if v, _ := st.LoadCursor(ctx, "telegram"); v != 110 {
				t.Fatalf("stored cursor = %d, want 110", v)
			}
			if v, _ := st.LoadCursor(ctx, "other"); v != 0 {
				t.Fatalf("cursors must be independent by name, got %d", v)
			}
		})
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "state.db")}
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			_, _, _ = st.InsertArticle(ctx, "persisted", time.Now())
			_, _ = st.InsertSubscriber(ctx, 5, time.Now())
			_, _ = st.AdvanceCursor(ctx, "telegram", 42)
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			if _, added, _ := st.InsertArticle(ctx, "persisted", time.Now()); added {
				t.Fatalf("article lost across restart")
			}
			if v, _ := st.LoadCursor(ctx, "telegram"); v != 42 {
				t.Fatalf("cursor = %d, want 42", v)
			}
			subs, _ := st.ListSubscribers(ctx)
			if len(subs) != 1 || subs[0].ChatID != 5 {
				t.Fatalf("subscribers = %+v", subs)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "none"}, logx.Logger{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := Open(Config{Driver: "mysql"}, logx.Logger{}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Logger{}); err == nil {
		t.Fatalf("expected error for missing sqlite path")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Logger{}); err == nil {
		t.Fatalf("expected error for missing dsn")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	got := rebind(`INSERT INTO t(a, b) VALUES(?,?) ON CONFLICT(a) DO NOTHING`)
	want := `INSERT INTO t(a, b) VALUES($1,$2) ON CONFLICT(a) DO NOTHING`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}
