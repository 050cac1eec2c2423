package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/config"
	"newsbot/internal/storage"
	"newsbot/internal/transport"
	"newsbot/internal/transport/telegram"
	"newsbot/internal/transport/transporttest"
	logx "newsbot/pkg/logx"
)

type fakeBot struct {
	*transporttest.Bot

	mu   sync.Mutex
	menu []telegram.Command
}

func (f *fakeBot) Username(context.Context) (string, error) { return "NewsBot", nil }

func (f *fakeBot) SetCommands(_ context.Context, cmds []telegram.Command) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

type stepSource struct {
	mu    sync.Mutex
	texts []string
}

func (s *stepSource) Latest(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.texts[0]
	if len(s.texts) > 1 {
		s.texts = s.texts[1:]
	}
	return t, nil
}

func testConfig() *config.Config {
	off := false
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t"},
		Publish:  config.PublishConfig{Schedule: "1h", RunOnStart: &off},
		Source:   config.SourceConfig{Name: "Kaktus"},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sentTo(bot *transporttest.Bot, to transport.ChatID) []string {
	var out []string
	for _, s := range bot.Sent() {
		if s.To == to {
			out = append(out, s.Text)
		}
	}
	return out
}

func TestAppSubscribeThenPublish(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	bot := &fakeBot{Bot: &transporttest.Bot{Idle: 20 * time.Millisecond}}
	bot.Enqueue(transporttest.Text(10, 42, "/subscribe"))

	a, err := build(nil, testConfig(), Deps{Bot: bot, Store: store, Source: &stepSource{texts: []string{"A1"}}, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "subscribe reply", func() bool { return len(sentTo(bot.Bot, 42)) == 1 })
	a.sched.Trigger()
	waitFor(t, "article delivery", func() bool { return len(sentTo(bot.Bot, 42)) == 2 })

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := sentTo(bot.Bot, 42)
	want := []string{"You're now subscribing news from Kaktus operator", "A1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sends mismatch (-want +got):\n%s", diff)
	}
	cur, err := store.LoadCursor(context.Background(), "telegram")
	if err != nil || cur != 11 {
		t.Fatalf("cursor = %d, %v; want 11", cur, err)
	}
	bot.mu.Lock()
	defer bot.mu.Unlock()
	if len(bot.menu) != 4 {
		t.Fatalf("menu = %v", bot.menu)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{Bot: &transporttest.Bot{Idle: 20 * time.Millisecond}}
	prev := testConfig()
	a, err := build(nil, prev, Deps{Bot: bot, Store: storage.NewMemory(), Source: &stepSource{texts: []string{"A"}}, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	next := testConfig()
	next.Publish.Schedule = "5m"
	next.Messages.Subscribed = "Welcome to {source}!"
	next.Source.Name = "Other"
	a.applyConfig(prev, next)

	if got := a.sched.Schedule().Every; got != 5*time.Minute {
		t.Fatalf("schedule = %v", got)
	}
	bot.Enqueue(transporttest.Text(1, 7, "/subscribe"))
	waitFor(t, "reply", func() bool { return len(sentTo(bot.Bot, 7)) == 1 })
	if got := sentTo(bot.Bot, 7)[0]; got != "Welcome to Other!" {
		t.Fatalf("reply = %q", got)
	}
}

func TestStorageConfigDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		driver string
		want   storage.Config
	}{
		{"", storage.Config{Driver: "sqlite", Path: "data/newsbot.db"}},
		{"bolt", storage.Config{Driver: "bolt", Path: "data/newsbot.bolt"}},
		{"postgres", storage.Config{Driver: "postgres", DSN: "postgres://x"}},
	}
	for _, tt := range tests {
		cfg := &config.Config{Storage: config.StorageConfig{Driver: tt.driver}}
		if tt.driver == "postgres" {
			cfg.Storage.DSN = "postgres://x"
		}
		got, err := storageConfig(cfg)
		if err != nil {
			t.Fatalf("%q: %v", tt.driver, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", tt.driver, diff)
		}
	}
}

func TestCheckReload(t *testing.T) {
	t.Parallel()
	a, err := build(nil, testConfig(), Deps{Bot: &fakeBot{Bot: &transporttest.Bot{}}, Store: storage.NewMemory(), Source: &stepSource{texts: []string{"A"}}, Log: logx.Nop()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tests := []struct {
		name    string
		edit    func(*config.Config)
		wantErr bool
	}{
		{"unchanged", func(*config.Config) {}, false},
		{"empty schedule uses default", func(c *config.Config) { c.Publish.Schedule = "" }, false},
		{"bad cron", func(c *config.Config) { c.Publish.Schedule = "cron:61 * * * *" }, true},
		{"bad job timeout", func(c *config.Config) { c.Publish.JobTimeout = "soon" }, true},
	}
	for _, tt := range tests {
		next := testConfig()
		tt.edit(next)
		if err := a.checkReload(context.Background(), next); (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
