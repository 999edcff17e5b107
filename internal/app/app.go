package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tweetrelay/internal/config"
	"tweetrelay/internal/feed"
	"tweetrelay/internal/notifier"
	"tweetrelay/internal/relay"
	"tweetrelay/internal/runtime/supervisor"
	"tweetrelay/internal/state"
	"tweetrelay/internal/transport/telegram"
	logx "tweetrelay/pkg/logx"
	"tweetrelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	feed    *feed.Client
	store   state.Store
	notif   *notifier.Service
	poller  *relay.Poller
	sd      *systemd.Notifier

	grace time.Duration
}

// New loads the configuration from cfgPath (empty: environment only) and
// wires every component. Errors here are startup failures.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	// The adapter is the Telegram log sink's sender, so it is built before
	// the log service and only gets a plain console logger.
	bootLog := logx.Nop()
	if cfg.Logging.Console {
		bootLog = logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New() applies immediately; set the operator chat before enabling
	// the Telegram sink so Apply() doesn't warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(mapLogTarget(cfg))
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	cleanup := func() { _ = logSvc.Close() }

	fc, err := mapFeedConfig(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	feedClient, err := feed.New(fc, root)
	if err != nil {
		cleanup()
		return nil, err
	}

	sc, err := mapStateConfig(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	store, err := state.Open(sc, root.With(logx.String("comp", "state")))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open state: %w", err)
	}
	cleanup = func() {
		_ = store.Close()
		_ = logSvc.Close()
	}

	target, err := mapRelayTarget(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	notif, err := notifier.New(nc, ad, target, root)
	if err != nil {
		cleanup()
		return nil, err
	}

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	poller, err := relay.New(rc, feedClient, notif, store, root)
	if err != nil {
		cleanup()
		return nil, err
	}

	cfgm.SetLogger(root.With(logx.String("comp", "config")))
	log.Info("configured",
		logx.Int("accounts", len(rc.Usernames)),
		logx.String("channel", target.String()),
		logx.String("state_driver", sc.Driver),
		logx.String("state_path", sc.Path),
		logx.String("poll", rc.Poll.String()),
		logx.Duration("recovery", rc.Recovery),
	)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		feed:    feedClient,
		store:   store,
		notif:   notif,
		poller:  poller,
		grace:   stallGrace(fc),
		sd:      systemd.NewNotifier(root.With(logx.String("comp", "systemd"))),
	}, nil
}

// Run bootstraps the relay and polls until ctx is cancelled. It returns nil
// after a graceful shutdown, or the startup error.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	runCtx := a.sup.Context()

	sess, err := a.poller.Bootstrap(runCtx)
	if err != nil {
		a.stop()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}

	a.sd.Ready()
	a.sd.Status(fmt.Sprintf("tracking %d accounts", len(sess.Accounts)))
	a.poller.OnPass(func(rep relay.PassReport, err error) {
		if err != nil {
			a.sd.Status("last pass failed: " + err.Error())
			return
		}
		a.sd.Status(rep.String())
	})

	if wd := systemd.WatchdogInterval(); wd > 0 {
		grace := a.grace
		a.log.Info("systemd watchdog enabled", logx.Duration("interval", wd), logx.Duration("stall_grace", grace))
		healthy := func() bool { return !a.poller.Stalled(grace) }
		a.sup.Go("systemd.watchdog", func(c context.Context) error { return a.sd.Watchdog(c, wd, healthy) })
	}
	a.startConfigReload()

	a.log.Info("relay started", logx.Int("accounts", len(sess.Accounts)))
	runErr := a.poller.Run(runCtx, sess)
	a.stop()
	if runErr != nil {
		return fmt.Errorf("shutdown: %w", runErr)
	}
	return nil
}

// stallGrace bounds how long one step of the poll loop may take before the
// watchdog stops vouching for it: a request timeout per pending call plus the
// longest rate-limit pacing wait.
func stallGrace(fc feed.Config) time.Duration {
	grace := stallGraceBase
	if fc.RequestsPerWindow > 0 {
		grace += 2 * feed.RateWindow / time.Duration(fc.RequestsPerWindow)
	}
	return grace
}

const stallGraceBase = 20 * time.Minute

func (a *App) stop() {
	a.sd.Stopping()
	a.log.Info("stopping")

	if a.sup != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := a.sup.Stop(ctx); err != nil {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
		cancel()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state close", logx.Err(err))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
