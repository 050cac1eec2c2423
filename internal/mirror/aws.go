package mirror

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"newsbot/internal/eventbus"
)

type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sqsClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// loadAWS uses static credentials when given, otherwise the default chain.
func loadAWS(ctx context.Context, cfg SinkConfig) (aws.Config, error) {
	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	c, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return c, nil
}

type snsSink struct {
	name     string
	topicARN string
	client   snsClient
}

func newSNSSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	if cfg.TopicARN == "" || cfg.Region == "" {
		return nil, fmt.Errorf("mirror %q: aws-sns needs topic_arn and region", cfg.Name)
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &snsSink{name: cfg.Name, topicARN: cfg.TopicARN, client: sns.NewFromConfig(awsCfg)}, nil
}

func (s *snsSink) Name() string { return s.name }
func (s *snsSink) Close() error { return nil }

func (s *snsSink) Send(ctx context.Context, a eventbus.ArticleStored) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"source":     {DataType: aws.String("String"), StringValue: aws.String(attr(a.Source))},
			"article_id": {DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatInt(a.ID, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

type sqsSink struct {
	name     string
	queueURL string
	client   sqsClient
}

func newSQSSink(ctx context.Context, cfg SinkConfig) (Sink, error) {
	if cfg.QueueURL == "" || cfg.Region == "" {
		return nil, fmt.Errorf("mirror %q: aws-sqs needs queue_url and region", cfg.Name)
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &sqsSink{name: cfg.Name, queueURL: cfg.QueueURL, client: sqs.NewFromConfig(awsCfg)}, nil
}

func (s *sqsSink) Name() string { return s.name }
func (s *sqsSink) Close() error { return nil }

func (s *sqsSink) Send(ctx context.Context, a eventbus.ArticleStored) error {
	payload, err := encode(a)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"source":     {DataType: aws.String("String"), StringValue: aws.String(attr(a.Source))},
			"article_id": {DataType: aws.String("Number"), StringValue: aws.String(strconv.FormatInt(a.ID, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// attr keeps message attributes non-empty; AWS rejects empty string values.
func attr(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
