package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"newsbot/internal/transport"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrUnavailable wraps every driver failure. Callers must not treat it as
	// "duplicate" or "not found".
	ErrUnavailable = errors.New("storage unavailable")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL, DSN required
//   - "bolt": bbolt database file
//   - "memory": process-local, not durable (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Article struct {
	ID         int64
	Text       string
	ObservedAt time.Time
}

type Subscriber struct {
	ID        int64
	ChatID    transport.ChatID
	CreatedAt time.Time
}

type Delivery struct {
	ID           int64
	ArticleID    int64
	SubscriberID int64
	SentAt       time.Time
}

type ArticleRepo interface {
	// InsertArticle stores text unless a byte-identical article exists.
	// inserted=false means duplicate; id is then zero.
	InsertArticle(ctx context.Context, text string, observedAt time.Time) (id int64, inserted bool, err error)
	// LatestArticle returns the article with the highest ObservedAt.
	LatestArticle(ctx context.Context) (a Article, ok bool, err error)
}

type SubscriberRepo interface {
	InsertSubscriber(ctx context.Context, chatID transport.ChatID, at time.Time) (inserted bool, err error)
	DeleteSubscriber(ctx context.Context, chatID transport.ChatID) (deleted bool, err error)
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
}

type DeliveryRepo interface {
	// InsertDelivery records the (article, subscriber) pair unless it already exists.
	InsertDelivery(ctx context.Context, articleID, subscriberID int64, sentAt time.Time) (id int64, inserted bool, err error)
}

type CursorRepo interface {
	// LoadCursor returns 0 when the cursor was never stored.
	LoadCursor(ctx context.Context, name string) (int64, error)
	// AdvanceCursor stores max(stored, next) and returns the stored value.
	AdvanceCursor(ctx context.Context, name string, next int64) (int64, error)
}

// Store is the full persistence API used by the loops.
type Store interface {
	ArticleRepo
	SubscriberRepo
	DeliveryRepo
	CursorRepo
	Close() error
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("storage %s: %w: %w", op, ErrUnavailable, err)
}

// digest is the uniqueness key of an article text.
func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
