package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "newsbot/pkg/logx"
)

// notifier reports lifecycle state to systemd. Every call is a no-op when
// NOTIFY_SOCKET is unset.
type notifier struct {
	log logx.Logger
}

func (n notifier) ready() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		n.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		n.log.Debug("systemd notified ready")
	}
}

func (n notifier) stopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

func (n notifier) status(s string) {
	_, _ = daemon.SdNotify(false, "STATUS="+s)
}

// watchdog pings systemd at half the configured WatchdogSec until ctx ends.
func (n notifier) watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
