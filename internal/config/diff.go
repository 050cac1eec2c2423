package config

import (
	"reflect"
	"sort"
	"strings"

	logx "newsbot/pkg/logx"
)

// Change summarizes a reload. Attrs never carry secrets.
type Change struct {
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	Attrs   []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// restartOnly are sections the running process does not reapply.
var restartOnly = map[string]bool{"telegram": true, "storage": true, "source": true, "mirror": true, "receive": true}

func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.APIURL != nt.APIURL || ot.PollTimeout != nt.PollTimeout || ot.AdminChatID != nt.AdminChatID {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.admin_set", nt.AdminChatID != ""),
		)
	}
	osrc, nsrc := oldCfg.Source, newCfg.Source
	osrc.Name, nsrc.Name = "", ""
	if osrc != nsrc {
		mark("source", logx.String("source.url", newCfg.Source.URL), logx.String("source.kind", newCfg.Source.Kind))
	}
	if !reflect.DeepEqual(oldCfg.Publish, newCfg.Publish) {
		mark("publish",
			logx.String("publish.schedule", newCfg.Publish.Schedule),
			logx.Int("publish.rate_per_sec", newCfg.Publish.RatePerSec),
		)
	}
	if oldCfg.Receive != newCfg.Receive {
		mark("receive", logx.String("receive.poll_error_backoff", newCfg.Receive.PollErrorBackoff))
	}
	if oldCfg.Messages != newCfg.Messages || oldCfg.Source.Name != newCfg.Source.Name {
		mark("messages")
	}
	ost, ns := oldCfg.Storage, newCfg.Storage
	if ost.Driver != ns.Driver || ost.Path != ns.Path || ost.DSN != ns.DSN || ost.BusyTimeout != ns.BusyTimeout {
		mark("storage",
			logx.String("storage.driver", ns.Driver),
			logx.Bool("storage.path_set", ns.Path != ""),
			logx.Bool("storage.dsn_set", ns.DSN != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Mirror, newCfg.Mirror) {
		mark("mirror", logx.Int("mirror.sinks", len(newCfg.Mirror)))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	sort.Strings(ch.Sections)
	for _, s := range ch.Sections {
		if restartOnly[s] {
			ch.Restart = append(ch.Restart, s)
		}
	}
	return ch
}
