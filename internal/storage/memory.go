package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"newsbot/internal/transport"
)

// Memory is a process-local Store. Nothing survives a restart.
type Memory struct {
	mu sync.Mutex

	articles     []Article
	articleByKey map[string]int64

	subSeq      int64
	subscribers map[transport.ChatID]Subscriber

	deliveries map[[2]int64]Delivery

	cursors map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		articleByKey: make(map[string]int64),
		subscribers:  make(map[transport.ChatID]Subscriber),
		deliveries:   make(map[[2]int64]Delivery),
		cursors:      make(map[string]int64),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) InsertArticle(ctx context.Context, text string, observedAt time.Time) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := digest(text)
	if _, ok := m.articleByKey[key]; ok {
		return 0, false, nil
	}
	id := int64(len(m.articles) + 1)
	m.articles = append(m.articles, Article{ID: id, Text: text, ObservedAt: observedAt})
	m.articleByKey[key] = id
	return id, true, nil
}

func (m *Memory) LatestArticle(ctx context.Context) (Article, bool, error) {
	if err := ctx.Err(); err != nil {
		return Article{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.articles) == 0 {
		return Article{}, false, nil
	}
	best := m.articles[0]
	for _, a := range m.articles[1:] {
		if !a.ObservedAt.Before(best.ObservedAt) {
			best = a
		}
	}
	return best, true, nil
}

func (m *Memory) InsertSubscriber(ctx context.Context, chatID transport.ChatID, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[chatID]; ok {
		return false, nil
	}
	m.subSeq++
	m.subscribers[chatID] = Subscriber{ID: m.subSeq, ChatID: chatID, CreatedAt: at}
	return true, nil
}

func (m *Memory) DeleteSubscriber(ctx context.Context, chatID transport.ChatID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[chatID]; !ok {
		return false, nil
	}
	delete(m.subscribers, chatID)
	return true, nil
}

func (m *Memory) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) InsertDelivery(ctx context.Context, articleID, subscriberID int64, sentAt time.Time) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{articleID, subscriberID}
	if _, ok := m.deliveries[key]; ok {
		return 0, false, nil
	}
	id := int64(len(m.deliveries) + 1)
	m.deliveries[key] = Delivery{ID: id, ArticleID: articleID, SubscriberID: subscriberID, SentAt: sentAt}
	return id, true, nil
}

func (m *Memory) LoadCursor(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name], nil
}

func (m *Memory) AdvanceCursor(ctx context.Context, name string, next int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.cursors[name]; cur >= next {
		return cur, nil
	}
	m.cursors[name] = next
	return next, nil
}
