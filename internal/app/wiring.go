package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"newsbot/internal/commands"
	"newsbot/internal/config"
	"newsbot/internal/inbound"
	"newsbot/internal/mirror"
	"newsbot/internal/publish"
	"newsbot/internal/scheduler"
	"newsbot/internal/source"
	"newsbot/internal/storage"
	"newsbot/internal/transport"
	"newsbot/internal/transport/telegram"
	logx "newsbot/pkg/logx"
)

const defaultDataDir = "./data"

func telegramConfig(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, telegram.DefaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, APIURL: cfg.Telegram.APIURL, PollTimeout: pt}, nil
}

func logConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if id, err := transport.ParseChatID(cfg.Telegram.AdminChatID); err == nil {
		lc.Telegram.ChatID = id
	}
	return lc
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	sc := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:   strings.TrimSpace(cfg.Storage.Path),
		DSN:    cfg.Storage.DSN,
	}
	if sc.Driver == "" {
		sc.Driver = "sqlite"
	}
	if sc.Path == "" {
		switch sc.Driver {
		case "sqlite", "sqlite3":
			sc.Path = filepath.Join(defaultDataDir, "newsbot.db")
		case "bolt", "bbolt":
			sc.Path = filepath.Join(defaultDataDir, "newsbot.bolt")
		}
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc.BusyTimeout = busy
	return sc, nil
}

func sourceConfig(cfg *config.Config) (source.Config, error) {
	timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return source.Config{}, err
	}
	s := cfg.Source
	return source.Config{
		URL:           s.URL,
		Kind:          s.Kind,
		Selector:      s.Selector,
		TitleSelector: s.TitleSelector,
		BodySelector:  s.BodySelector,
		Separator:     s.Separator,
		UserAgent:     s.UserAgent,
		Timeout:       timeout,
	}, nil
}

func messages(cfg *config.Config) commands.Messages {
	m := cfg.Messages
	return commands.Messages{
		SourceName:        cfg.Source.Name,
		Subscribed:        m.Subscribed,
		AlreadySubscribed: m.AlreadySubscribed,
		Unsubscribed:      m.Unsubscribed,
		NotSubscribed:     m.NotSubscribed,
		NoArticles:        m.NoArticles,
		Help:              m.Help,
		Failure:           m.Failure,
	}.WithDefaults()
}

func publishOptions(cfg *config.Config) publish.Options {
	return publish.Options{RatePerSec: float64(cfg.Publish.RatePerSec), SourceName: messages(cfg).SourceName}
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("publish.job_timeout", cfg.Publish.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	runOnStart := true
	if cfg.Publish.RunOnStart != nil {
		runOnStart = *cfg.Publish.RunOnStart
	}
	return scheduler.Config{
		Schedule:   cfg.Publish.Schedule,
		Timezone:   cfg.Publish.Timezone,
		RunOnStart: runOnStart,
		JobTimeout: timeout,
	}, nil
}

func receiverOptions(cfg *config.Config) (inbound.Options, error) {
	backoff, err := config.ParseDurationField("receive.poll_error_backoff", cfg.Receive.PollErrorBackoff)
	if err != nil {
		return inbound.Options{}, err
	}
	return inbound.Options{PollErrorBackoff: backoff}, nil
}

func mirrorSinks(ctx context.Context, cfg *config.Config) ([]mirror.Sink, error) {
	out := make([]mirror.Sink, 0, len(cfg.Mirror))
	for _, m := range cfg.Mirror {
		timeout, err := config.ParseDurationField("mirror.timeout", m.Timeout)
		if err != nil {
			return nil, err
		}
		s, err := mirror.NewSink(ctx, mirror.SinkConfig{
			Name:            m.Name,
			Kind:            m.Kind,
			Region:          m.Region,
			AccessKeyID:     m.AccessKeyID,
			SecretAccessKey: m.SecretAccessKey,
			TopicARN:        m.TopicARN,
			QueueURL:        m.QueueURL,
			ProjectID:       m.ProjectID,
			Topic:           m.Topic,
			CredentialsFile: m.CredentialsFile,
			URL:             m.URL,
			Headers:         m.Headers,
			Timeout:         timeout,
		})
		if err != nil {
			for _, done := range out {
				_ = done.Close()
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func menu() []telegram.Command {
	return []telegram.Command{
		{Command: commands.CmdSubscribe, Description: "Receive new articles"},
		{Command: commands.CmdUnsubscribe, Description: "Stop receiving articles"},
		{Command: commands.CmdLast, Description: "Show the latest article"},
		{Command: commands.CmdHelp, Description: "Show help"},
	}
}
