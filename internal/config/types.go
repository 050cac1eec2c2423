package config

import (
	"errors"
	"fmt"
	"strings"

	"newsbot/internal/scheduler"
	"newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Publish  PublishConfig  `json:"publish"`
	Receive  ReceiveConfig  `json:"receive"`
	Messages MessagesConfig `json:"messages"`
	Storage  StorageConfig  `json:"storage"`
	Mirror   []MirrorSink   `json:"mirror,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	// Token is usually supplied via NEWSBOT_TELEGRAM_TOKEN instead.
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"`
	// PollTimeout is a Go duration string (e.g. "50s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AdminChatID receives warn+ logs when logging.telegram is enabled.
	AdminChatID string `json:"admin_chat_id,omitempty"`
}

// SourceConfig describes the news page. Empty fields use the built-in
// defaults of the source package.
type SourceConfig struct {
	Name          string `json:"name,omitempty"`
	URL           string `json:"url,omitempty"`
	Kind          string `json:"kind,omitempty"` // html | feed
	Selector      string `json:"selector,omitempty"`
	TitleSelector string `json:"title_selector,omitempty"`
	BodySelector  string `json:"body_selector,omitempty"`
	Separator     string `json:"separator,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
}

type PublishConfig struct {
	// Schedule accepts a duration ("30m"), "HH:MM", or a cron spec.
	Schedule   string `json:"schedule,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart *bool  `json:"run_on_start,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
}

type ReceiveConfig struct {
	PollErrorBackoff string `json:"poll_error_backoff,omitempty"`
}

// MessagesConfig overrides reply texts. "{source}" is replaced with the
// source name.
type MessagesConfig struct {
	Subscribed        string `json:"subscribed,omitempty"`
	AlreadySubscribed string `json:"already_subscribed,omitempty"`
	Unsubscribed      string `json:"unsubscribed,omitempty"`
	NotSubscribed     string `json:"not_subscribed,omitempty"`
	NoArticles        string `json:"no_articles,omitempty"`
	Help              string `json:"help,omitempty"`
	Failure           string `json:"failure,omitempty"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/newsbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite | postgres | bolt
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres; prefer NEWSBOT_STORAGE_DSN
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type MirrorSink struct {
	Name string `json:"name,omitempty"`
	Kind string `json:"kind"`

	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	TopicARN        string `json:"topic_arn,omitempty"`
	QueueURL        string `json:"queue_url,omitempty"`

	ProjectID       string `json:"project_id,omitempty"`
	Topic           string `json:"topic,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`

	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

var (
	validStorage = map[string]bool{"": true, "sqlite": true, "sqlite3": true, "postgres": true, "postgresql": true, "bolt": true, "bbolt": true, "memory": true}
	validMirror  = map[string]bool{"aws-sns": true, "aws-sqs": true, "gcp-pubsub": true, "webhook": true}
)

// Validate checks values that would otherwise fail late at runtime.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(errors.New("telegram.token: empty (set NEWSBOT_TELEGRAM_TOKEN)"))
	}
	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)
	if c.Telegram.AdminChatID != "" {
		_, err := transport.ParseChatID(c.Telegram.AdminChatID)
		add(wrapField("telegram.admin_chat_id", err))
	}
	if c.Logging.Telegram.Enabled && c.Telegram.AdminChatID == "" {
		add(errors.New("logging.telegram: enabled without telegram.admin_chat_id"))
	}

	switch strings.ToLower(c.Source.Kind) {
	case "", "html", "feed":
	default:
		add(fmt.Errorf("source.kind: unknown %q", c.Source.Kind))
	}
	_, err = ParseDurationField("source.timeout", c.Source.Timeout)
	add(err)

	if s := strings.TrimSpace(c.Publish.Schedule); s != "" {
		_, err := scheduler.ParseSchedule(s)
		add(wrapField("publish.schedule", err))
	}
	if c.Publish.RatePerSec < 0 {
		add(errors.New("publish.rate_per_sec: must be >= 0"))
	}
	_, err = ParseDurationField("publish.job_timeout", c.Publish.JobTimeout)
	add(err)
	_, err = ParseDurationField("receive.poll_error_backoff", c.Receive.PollErrorBackoff)
	add(err)

	if !validStorage[strings.ToLower(strings.TrimSpace(c.Storage.Driver))] {
		add(fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	for i, m := range c.Mirror {
		if !validMirror[strings.ToLower(strings.TrimSpace(m.Kind))] {
			add(fmt.Errorf("mirror[%d].kind: unknown %q", i, m.Kind))
		}
		_, err := ParseDurationField(fmt.Sprintf("mirror[%d].timeout", i), m.Timeout)
		add(err)
	}

	if c.Logging.Level != "" && !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

func wrapField(path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", path, err)
}
