// Package mirror forwards each newly stored article to external sinks
// (AWS SNS, AWS SQS, Google Pub/Sub, HTTP webhooks).
//
// Mirroring is best-effort: a failing sink is logged and never blocks or
// fails the publish loop. Duplicates never reach a sink because only
// article.stored events are mirrored.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"newsbot/internal/eventbus"
	logx "newsbot/pkg/logx"
)

const (
	KindAWSSNS    = "aws-sns"
	KindAWSSQS    = "aws-sqs"
	KindGCPPubSub = "gcp-pubsub"
	KindWebhook   = "webhook"
)

// Sink receives mirrored articles.
type Sink interface {
	Name() string
	Send(ctx context.Context, a eventbus.ArticleStored) error
	Close() error
}

// SinkConfig describes one sink. Fields unrelated to Kind are ignored.
type SinkConfig struct {
	Name string
	Kind string

	// aws-sns / aws-sqs
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	TopicARN        string
	QueueURL        string

	// gcp-pubsub
	ProjectID       string
	Topic           string
	CredentialsFile string

	// webhook
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// NewSink builds the sink described by cfg.
func NewSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindAWSSNS:
		return newSNSSink(ctx, cfg)
	case KindAWSSQS:
		return newSQSSink(ctx, cfg)
	case KindGCPPubSub:
		return newPubSubSink(ctx, cfg)
	case KindWebhook:
		return newWebhookSink(cfg)
	default:
		return nil, fmt.Errorf("mirror %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

func encode(a eventbus.ArticleStored) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal article: %w", err)
	}
	return b, nil
}

// Mirror fans article.stored events out to its sinks.
type Mirror struct {
	sinks   []Sink
	log     logx.Logger
	timeout time.Duration
}

func New(sinks []Sink, log logx.Logger) *Mirror {
	return &Mirror{sinks: sinks, log: log.With(logx.String("comp", "mirror")), timeout: 15 * time.Second}
}

func (m *Mirror) Len() int { return len(m.sinks) }

// Publish sends a to every sink and returns the joined sink errors.
func (m *Mirror) Publish(ctx context.Context, a eventbus.ArticleStored) error {
	var errs []error
	for _, s := range m.sinks {
		sctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := s.Send(sctx, a)
		cancel()
		if err != nil {
			m.log.Warn("mirror send failed", logx.String("sink", s.Name()), logx.Int64("article_id", a.ID), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.log.Debug("article mirrored", logx.String("sink", s.Name()), logx.Int64("article_id", a.ID))
	}
	return errors.Join(errs...)
}

// Run consumes article.stored events from bus until ctx is canceled.
func (m *Mirror) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Type != eventbus.TypeArticleStored {
				continue
			}
			a, ok := e.Data.(eventbus.ArticleStored)
			if !ok {
				continue
			}
			_ = m.Publish(ctx, a)
		}
	}
}

func (m *Mirror) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
