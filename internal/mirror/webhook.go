package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"newsbot/internal/eventbus"
)

type webhookSink struct {
	name   string
	url    string
	client *resty.Client
}

func newWebhookSink(cfg SinkConfig) (Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mirror %q: webhook needs url", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)
	return &webhookSink{name: cfg.Name, url: cfg.URL, client: c}, nil
}

func (s *webhookSink) Name() string { return s.name }
func (s *webhookSink) Close() error { return nil }

func (s *webhookSink) Send(ctx context.Context, a eventbus.ArticleStored) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	resp, err := s.client.R().SetContext(ctx).SetBody(payload).Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook post: status %d", resp.StatusCode())
	}
	return nil
}
