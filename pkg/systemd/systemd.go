// Package systemd reports service state to systemd (sd_notify) and keeps the
// watchdog fed. Outside a Type=notify unit every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "tweetrelay/pkg/logx"
)

type Notifier struct {
	log logx.Logger
	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) bool {
	ok, err := n.notify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Status sets the one-line status shown by systemctl status.
func (n *Notifier) Status(text string) bool { return n.send("STATUS=" + text) }

// WatchdogInterval returns how often the watchdog must be pinged, or 0 when
// the unit has no WatchdogSec.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// Watchdog pings systemd at half of interval until ctx is done. A ping is
// sent only while healthy reports true (nil means always healthy), so a hung
// main loop lets the watchdog expire and systemd restarts the unit.
func (n *Notifier) Watchdog(ctx context.Context, interval time.Duration, healthy func() bool) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()

	stalled := false
	ping := func() {
		if healthy != nil && !healthy() {
			if !stalled {
				n.log.Warn("main loop stalled; withholding watchdog ping")
			}
			stalled = true
			return
		}
		if stalled {
			n.log.Info("main loop progressing again; watchdog ping resumed")
		}
		stalled = false
		n.send(daemon.SdNotifyWatchdog)
	}

	ping()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			ping()
		}
	}
}
