// Package delivery records which subscriber was sent which article.
//
// A successful Add is the only permission to send; a pair is never sent twice.
package delivery

import (
	"context"
	"time"

	"newsbot/internal/storage"
)

type Ledger struct {
	repo storage.DeliveryRepo
	now  func() time.Time
}

func New(repo storage.DeliveryRepo) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Add claims the (articleID, subscriberID) pair. added=false means it was
// already claimed, by this process or an earlier one.
func (l *Ledger) Add(ctx context.Context, articleID, subscriberID int64) (int64, bool, error) {
	return l.repo.InsertDelivery(ctx, articleID, subscriberID, l.now())
}
