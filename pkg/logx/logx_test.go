package logx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"newsbot/internal/transport/transporttest"
)

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"warn","time":"x","message":"send failed","comp":"publish","chat_id":42}`))
	want := "[WARN] send failed\n- chat_id=42\n- comp=publish"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON input = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{strings.Repeat("a", 20), 12, strings.Repeat("a", 9) + "..."},
		{"abcdef", 4, "abcd"},
		{"ažžžžžž", 11, "ažžž..."},
		{"ěšč", 3, "ě"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestTelegramSinkForwardsWarnings(t *testing.T) {
	bot := &transporttest.Bot{}
	svc, log := New(Config{
		Level:    "debug",
		Console:  false,
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")},
		Telegram: TelegramConfig{Enabled: true, ChatID: 99, MinLevel: "warn", RatePerSec: 10},
	}, bot)
	defer svc.Close()

	log.Info("routine")
	log.With(String("comp", "inbound")).Warn("poll failed", Err(errors.New("timeout")))

	deadline := time.Now().Add(2 * time.Second)
	for len(bot.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := bot.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(sent), sent)
	}
	if sent[0].To != 99 || !strings.HasPrefix(sent[0].Text, "[WARN] poll failed") || !strings.Contains(sent[0].Text, "err=timeout") {
		t.Fatalf("sent = %+v", sent[0])
	}
}

func TestFileSinkAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.Info("hidden")
	log.Error("visible", Int64("article_id", 7))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"article_id":7`) || !strings.Contains(out, "now visible") {
		t.Fatalf("log file:\n%s", out)
	}
}

func TestNopAndZeroLogger(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	zero.Warn("dropped")
	Nop().With(String("k", "v")).Error("dropped")
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "debug", "INFO", "warning", "error"} {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("trace") {
		t.Errorf("ValidLevel(trace) = true")
	}
}
