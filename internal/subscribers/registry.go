// Package subscribers is the set of chats that receive new articles.
package subscribers

import (
	"context"
	"time"

	"newsbot/internal/storage"
	"newsbot/internal/transport"
)

type Registry struct {
	repo storage.SubscriberRepo
	now  func() time.Time
}

func New(repo storage.SubscriberRepo) *Registry {
	return &Registry{repo: repo, now: time.Now}
}

// Add returns false when chatID was already subscribed.
func (r *Registry) Add(ctx context.Context, chatID transport.ChatID) (bool, error) {
	if chatID.IsZero() {
		return false, transport.ErrInvalidChatID
	}
	return r.repo.InsertSubscriber(ctx, chatID, r.now())
}

// Remove returns false when chatID was not subscribed.
func (r *Registry) Remove(ctx context.Context, chatID transport.ChatID) (bool, error) {
	if chatID.IsZero() {
		return false, transport.ErrInvalidChatID
	}
	return r.repo.DeleteSubscriber(ctx, chatID)
}

// All returns a snapshot ordered by subscription id.
func (r *Registry) All(ctx context.Context) ([]storage.Subscriber, error) {
	return r.repo.ListSubscribers(ctx)
}
