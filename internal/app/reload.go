package app

import (
	"context"
	"strings"
	"time"

	"tweetrelay/internal/config"
	"tweetrelay/internal/runtime/supervisor"
	logx "tweetrelay/pkg/logx"
)

// startConfigReload watches the config file (when one is used) and applies
// the sections that can change live: logging, notifier and poll intervals.
func (a *App) startConfigReload() {
	if a.cfgm.Path() == "" {
		return
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart {
		a.log.Warn("x, telegram, accounts or state config changed; restart required for changes to take effect")
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	a.logs.SetTelegramTarget(mapLogTarget(newCfg))
	a.logs.Apply(mapLogConfig(newCfg))

	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}
	a.poller.SetPermalink(!newCfg.Notifier.OmitPermalink)

	if poll, recovery, err := mapIntervals(newCfg); err != nil {
		a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
	} else {
		a.poller.SetIntervals(poll, recovery)
	}

	a.log.Info("config reloaded", fields...)
}
