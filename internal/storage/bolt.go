package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

var (
	bktArticles      = []byte("articles")
	bktArticleDigest = []byte("article_digest")
	bktArticleTime   = []byte("article_time")
	bktSubscribers   = []byte("subscribers")
	bktDeliveries    = []byte("deliveries")
	bktDeliveryPair  = []byte("delivery_pair")
	bktCursors       = []byte("cursors")
)

// boltStore keeps every uniqueness check and its insert in one Update
// transaction; bbolt serializes writers.
type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

type boltArticle struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	ObservedAt int64  `json:"observed_at"`
}

type boltSubscriber struct {
	ID        int64 `json:"id"`
	ChatID    int64 `json:"chat_id"`
	CreatedAt int64 `json:"created_at"`
}

type boltDelivery struct {
	ID           int64 `json:"id"`
	ArticleID    int64 `json:"article_id"`
	SubscriberID int64 `json:"subscriber_id"`
	SentAt       int64 `json:"sent_at"`
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, unavailable("open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bktArticles, bktArticleDigest, bktArticleTime, bktSubscribers, bktDeliveries, bktDeliveryPair, bktCursors} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, unavailable("init buckets", err)
	}
	log.Debug("storage opened", logx.String("driver", "bolt"), logx.String("path", path))
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func i64(v int64) []byte { return u64(uint64(v)) }

func pairKey(a, b int64) []byte {
	return append(i64(a), i64(b)...)
}

func (s *boltStore) InsertArticle(ctx context.Context, text string, observedAt time.Time) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		id       int64
		inserted bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		dig := []byte(digest(text))
		idx := tx.Bucket(bktArticleDigest)
		if idx.Get(dig) != nil {
			return nil
		}
		arts := tx.Bucket(bktArticles)
		seq, err := arts.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		raw, err := json.Marshal(boltArticle{ID: id, Text: text, ObservedAt: observedAt.UnixNano()})
		if err != nil {
			return err
		}
		key := u64(seq)
		if err := arts.Put(key, raw); err != nil {
			return err
		}
		if err := idx.Put(dig, key); err != nil {
			return err
		}
		if err := tx.Bucket(bktArticleTime).Put(append(i64(observedAt.UnixNano()), key...), key); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return 0, false, unavailable("insert article", err)
	}
	return id, inserted, nil
}

func (s *boltStore) LatestArticle(ctx context.Context) (Article, bool, error) {
	if err := ctx.Err(); err != nil {
		return Article{}, false, err
	}
	var (
		a  Article
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		_, key := tx.Bucket(bktArticleTime).Cursor().Last()
		if key == nil {
			return nil
		}
		raw := tx.Bucket(bktArticles).Get(key)
		if raw == nil {
			return errors.New("article index points at missing record")
		}
		var ba boltArticle
		if err := json.Unmarshal(raw, &ba); err != nil {
			return err
		}
		a = Article{ID: ba.ID, Text: ba.Text, ObservedAt: time.Unix(0, ba.ObservedAt)}
		ok = true
		return nil
	})
	if err != nil {
		return Article{}, false, unavailable("latest article", err)
	}
	return a, ok, nil
}

func (s *boltStore) InsertSubscriber(ctx context.Context, chatID transport.ChatID, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var inserted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSubscribers)
		key := i64(int64(chatID))
		if b.Get(key) != nil {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		raw, err := json.Marshal(boltSubscriber{ID: int64(seq), ChatID: int64(chatID), CreatedAt: at.UnixNano()})
		if err != nil {
			return err
		}
		inserted = true
		return b.Put(key, raw)
	})
	if err != nil {
		return false, unavailable("insert subscriber", err)
	}
	return inserted, nil
}

func (s *boltStore) DeleteSubscriber(ctx context.Context, chatID transport.ChatID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var deleted bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktSubscribers)
		key := i64(int64(chatID))
		if b.Get(key) == nil {
			return nil
		}
		deleted = true
		return b.Delete(key)
	})
	if err != nil {
		return false, unavailable("delete subscriber", err)
	}
	return deleted, nil
}

func (s *boltStore) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Subscriber
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bktSubscribers).ForEach(func(_, v []byte) error {
			var bs boltSubscriber
			if err := json.Unmarshal(v, &bs); err != nil {
				return err
			}
			out = append(out, Subscriber{ID: bs.ID, ChatID: transport.ChatID(bs.ChatID), CreatedAt: time.Unix(0, bs.CreatedAt)})
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list subscribers", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *boltStore) InsertDelivery(ctx context.Context, articleID, subscriberID int64, sentAt time.Time) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		id       int64
		inserted bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		pairs := tx.Bucket(bktDeliveryPair)
		pk := pairKey(articleID, subscriberID)
		if pairs.Get(pk) != nil {
			return nil
		}
		b := tx.Bucket(bktDeliveries)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		raw, err := json.Marshal(boltDelivery{ID: id, ArticleID: articleID, SubscriberID: subscriberID, SentAt: sentAt.UnixNano()})
		if err != nil {
			return err
		}
		if err := b.Put(u64(seq), raw); err != nil {
			return err
		}
		inserted = true
		return pairs.Put(pk, u64(seq))
	})
	if err != nil {
		return 0, false, unavailable("insert delivery", err)
	}
	return id, inserted, nil
}

func (s *boltStore) LoadCursor(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var v int64
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bktCursors).Get([]byte(name)); len(raw) == 8 {
			v = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("load cursor", err)
	}
	return v, nil
}

func (s *boltStore) AdvanceCursor(ctx context.Context, name string, next int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v := next
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bktCursors)
		if raw := b.Get([]byte(name)); len(raw) == 8 {
			if cur := int64(binary.BigEndian.Uint64(raw)); cur >= next {
				v = cur
				return nil
			}
		}
		return b.Put([]byte(name), i64(next))
	})
	if err != nil {
		return 0, unavailable("advance cursor", err)
	}
	return v, nil
}
