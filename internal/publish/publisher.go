// Package publish runs one publish cycle: fetch the source, store a novel
// article and fan it out to every subscriber through the delivery ledger.
package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"newsbot/internal/eventbus"
	"newsbot/internal/storage"
	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

type Source interface {
	Latest(ctx context.Context) (string, error)
}

type Articles interface {
	Ensure(ctx context.Context) error
	Novel(text string) bool
	Add(ctx context.Context, text string) (id int64, added bool, err error)
}

type Subscribers interface {
	All(ctx context.Context) ([]storage.Subscriber, error)
}

type Ledger interface {
	Add(ctx context.Context, articleID, subscriberID int64) (id int64, added bool, err error)
}

type Options struct {
	// RatePerSec caps sends per second. <=0 means unlimited.
	RatePerSec float64
	// SourceName is attached to article.stored events.
	SourceName string
}

type Result struct {
	Novel     bool
	ArticleID int64
	Fanout    FanoutResult
}

type FanoutResult struct {
	Sent    int
	Skipped int // ledger already had the pair
	Failed  int
}

type Publisher struct {
	src      Source
	articles Articles
	subs     Subscribers
	ledger   Ledger
	sender   transport.Sender
	bus      eventbus.Bus
	log      logx.Logger

	limiter *rate.Limiter

	mu         sync.Mutex
	sourceName string
}

func New(src Source, arts Articles, subs Subscribers, ledger Ledger, sender transport.Sender, bus eventbus.Bus, log logx.Logger, opts Options) *Publisher {
	if bus == nil {
		bus = eventbus.Nop()
	}
	p := &Publisher{
		src:        src,
		articles:   arts,
		subs:       subs,
		ledger:     ledger,
		sender:     sender,
		bus:        bus,
		log:        log.With(logx.String("comp", "publish")),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		sourceName: opts.SourceName,
	}
	p.SetRate(opts.RatePerSec)
	return p
}

// SetRate changes the send rate limit (config reload).
func (p *Publisher) SetRate(perSec float64) {
	lim := rate.Inf
	if perSec > 0 {
		lim = rate.Limit(perSec)
	}
	p.limiter.SetLimit(lim)
}

// SetSourceName changes the source label of article.stored events.
func (p *Publisher) SetSourceName(name string) {
	p.mu.Lock()
	p.sourceName = name
	p.mu.Unlock()
}

// Cycle runs one publish pass. A fetch or extraction failure returns an
// error wrapping source.ErrFetch or source.ErrNoArticle and changes nothing.
// A storage failure aborts the pass.
func (p *Publisher) Cycle(ctx context.Context) (Result, error) {
	var res Result
	if err := p.articles.Ensure(ctx); err != nil {
		return res, fmt.Errorf("load last article: %w", err)
	}

	text, err := p.src.Latest(ctx)
	if err != nil {
		return res, err
	}
	if !p.articles.Novel(text) {
		p.log.Debug("no new article")
		return res, nil
	}

	id, added, err := p.articles.Add(ctx, text)
	if err != nil {
		return res, fmt.Errorf("store article: %w", err)
	}
	if !added {
		p.log.Debug("article already stored")
		return res, nil
	}
	res.Novel, res.ArticleID = true, id
	p.log.Info("new article", logx.Int64("article_id", id), logx.String("text", text))

	p.mu.Lock()
	srcName := p.sourceName
	p.mu.Unlock()
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeArticleStored, Data: eventbus.ArticleStored{
		ID:         id,
		Text:       text,
		ObservedAt: time.Now(),
		Source:     srcName,
	}})

	res.Fanout, err = p.Fanout(ctx, id, text)
	return res, err
}

// Fanout sends text to every subscriber whose delivery record for articleID
// is newly created. Running it again for the same article only reaches
// subscribers that were never claimed.
func (p *Publisher) Fanout(ctx context.Context, articleID int64, text string) (FanoutResult, error) {
	var res FanoutResult
	subs, err := p.subs.All(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}

	for _, s := range subs {
		// A pair is claimed only once its send is cleared to go.
		if err := p.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, added, err := p.ledger.Add(ctx, articleID, s.ID)
		if err != nil {
			return res, fmt.Errorf("record delivery: %w", err)
		}
		if !added {
			res.Skipped++
			continue
		}

		ev := eventbus.DeliveryResult{ArticleID: articleID, SubscriberID: s.ID, ChatID: int64(s.ChatID)}
		if err := p.sender.Send(ctx, s.ChatID, text); err != nil {
			res.Failed++
			ev.Err = err.Error()
			p.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Data: ev})
			p.log.Warn("delivery failed",
				logx.Int64("article_id", articleID),
				logx.Int64("chat_id", int64(s.ChatID)),
				logx.Err(err),
			)
			continue
		}
		res.Sent++
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: ev})
	}

	p.log.Info("fanout done",
		logx.Int64("article_id", articleID),
		logx.Int("sent", res.Sent),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
	)
	return res, nil
}
