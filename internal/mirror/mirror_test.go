package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"newsbot/internal/eventbus"
	logx "newsbot/pkg/logx"
)

var article = eventbus.ArticleStored{
	ID:         3,
	Text:       "Dobíjení 2x za 200 Kč",
	ObservedAt: time.Unix(1700000000, 0).UTC(),
	Source:     "Kaktus",
}

type fakeSNS struct {
	mu    sync.Mutex
	calls []*sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSQS struct {
	calls []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.calls = append(f.calls, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func decode(t *testing.T, s string) eventbus.ArticleStored {
	t.Helper()
	var got eventbus.ArticleStored
	if err := json.Unmarshal([]byte(s), &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return got
}

func TestSNSSink(t *testing.T) {
	t.Parallel()
	fake := &fakeSNS{}
	s := &snsSink{name: "sns", topicARN: "arn:aws:sns:eu-central-1:1:news", client: fake}

	if err := s.Send(context.Background(), article); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("publish calls = %d", len(fake.calls))
	}
	in := fake.calls[0]
	if aws.ToString(in.TopicArn) != s.topicARN {
		t.Fatalf("topic = %q", aws.ToString(in.TopicArn))
	}
	if diff := cmp.Diff(article, decode(t, aws.ToString(in.Message))); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if got := aws.ToString(in.MessageAttributes["article_id"].StringValue); got != "3" {
		t.Fatalf("article_id attribute = %q", got)
	}
}

func TestSQSSink(t *testing.T) {
	t.Parallel()
	fake := &fakeSQS{}
	s := &sqsSink{name: "sqs", queueURL: "https://sqs.local/1/news", client: fake}

	a := article
	a.Source = ""
	if err := s.Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}
	in := fake.calls[0]
	if aws.ToString(in.QueueUrl) != s.queueURL {
		t.Fatalf("queue = %q", aws.ToString(in.QueueUrl))
	}
	if got := aws.ToString(in.MessageAttributes["source"].StringValue); got != "unknown" {
		t.Fatalf("source attribute = %q", got)
	}
}

func TestWebhookSink(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		bodies []string
		auth   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	ok, err := NewSink(context.Background(), SinkConfig{
		Name: "hook", Kind: KindWebhook, URL: srv.URL + "/ok",
		Headers: map[string]string{"Authorization": "Bearer t"},
	})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := ok.Send(context.Background(), article); err != nil {
		t.Fatalf("Send: %v", err)
	}

	bad, _ := NewSink(context.Background(), SinkConfig{Kind: KindWebhook, URL: srv.URL + "/fail"})
	if err := bad.Send(context.Background(), article); err == nil {
		t.Fatalf("expected error on 502")
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(article, decode(t, bodies[0])); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if auth[0] != "Bearer t" {
		t.Fatalf("Authorization = %q", auth[0])
	}
}

func TestPubSubSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sink, err := newPubSubSink(ctx, SinkConfig{Name: "ps", ProjectID: "proj", Topic: "articles"}, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("newPubSubSink: %v", err)
	}
	defer sink.Close()
	if _, err := sink.(*pubsubSink).client.CreateTopic(ctx, "articles"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	if err := sink.Send(ctx, article); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	if diff := cmp.Diff(article, decode(t, string(msgs[0].Data))); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	if got := msgs[0].Attributes["source"]; got != "Kaktus" {
		t.Fatalf("source attribute = %q", got)
	}
}

func TestNewSinkValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, cfg := range []SinkConfig{
		{Kind: "carrier-pigeon"},
		{Kind: KindAWSSNS, Region: "eu-central-1"},
		{Kind: KindAWSSQS, QueueURL: "https://sqs.local/q"},
		{Kind: KindGCPPubSub, ProjectID: "p"},
		{Kind: KindWebhook},
	} {
		if _, err := NewSink(ctx, cfg); err == nil {
			t.Errorf("NewSink(%+v): expected error", cfg)
		}
	}
}

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []int64
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Close() error { return nil }
func (r *recordingSink) Send(_ context.Context, a eventbus.ArticleStored) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a.ID)
	return r.err
}

func (r *recordingSink) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.got...)
}

func TestPublishContinuesPastFailingSink(t *testing.T) {
	t.Parallel()
	broken := &recordingSink{name: "broken", err: errors.New("down")}
	good := &recordingSink{name: "good"}
	m := New([]Sink{broken, good}, logx.Nop())

	err := m.Publish(context.Background(), article)
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if diff := cmp.Diff([]int64{3}, good.ids()); diff != "" {
		t.Fatalf("good sink mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMirrorsOnlyStoredArticles(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sink := &recordingSink{name: "rec"}
	m := New([]Sink{sink}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		done <- m.Run(ctx, bus)
	}()
	<-ready

	// Run subscribes asynchronously; keep publishing until the first lands.
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.ids()) == 0 && time.Now().Before(deadline) {
		bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.DeliveryResult{ArticleID: 9}})
		bus.Publish(eventbus.Event{Type: eventbus.TypeArticleStored, Data: article})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	for _, id := range sink.ids() {
		if id != article.ID {
			t.Fatalf("mirrored non-article event: %v", sink.ids())
		}
	}
	if len(sink.ids()) == 0 {
		t.Fatalf("nothing mirrored")
	}
}
