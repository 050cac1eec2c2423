package mirror

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"newsbot/internal/eventbus"
)

type pubsubSink struct {
	name   string
	client *pubsub.Client
	topic  *pubsub.Topic
}

func newPubSubSink(ctx context.Context, cfg SinkConfig, extra ...option.ClientOption) (Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mirror %q: gcp-pubsub needs project_id and topic", cfg.Name)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &pubsubSink{name: cfg.Name, client: client, topic: client.Topic(cfg.Topic)}, nil
}

func (s *pubsubSink) Name() string { return s.name }

func (s *pubsubSink) Send(ctx context.Context, a eventbus.ArticleStored) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"source":     a.Source,
			"article_id": strconv.FormatInt(a.ID, 10),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("pubsub publish: %w", err)
	}
	return nil
}

func (s *pubsubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
