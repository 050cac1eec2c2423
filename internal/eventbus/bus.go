// Package eventbus is an in-process, non-blocking fanout of pipeline events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeArticleStored  = "article.stored"
	TypeDeliverySent   = "delivery.sent"
	TypeDeliveryFailed = "delivery.failed"
	TypeInboundBatch   = "inbound.batch"
)

// Event is a small in-memory signal. Publish never blocks; slow subscribers
// lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ArticleStored is the Data of TypeArticleStored.
type ArticleStored struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	ObservedAt time.Time `json:"observed_at"`
	Source     string    `json:"source"`
}

// DeliveryResult is the Data of TypeDeliverySent and TypeDeliveryFailed.
type DeliveryResult struct {
	ArticleID    int64  `json:"article_id"`
	SubscriberID int64  `json:"subscriber_id"`
	ChatID       int64  `json:"chat_id"`
	Err          string `json:"err,omitempty"`
}

// InboundBatch is the Data of TypeInboundBatch.
type InboundBatch struct {
	Received int   `json:"received"`
	Fresh    int   `json:"fresh"`
	Cursor   int64 `json:"cursor"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

type nopBus struct{}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
