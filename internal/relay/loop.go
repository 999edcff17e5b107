package relay

import (
	"context"

	logx "tweetrelay/pkg/logx"
)

// Run executes passes until ctx is cancelled, then persists the session
// state and returns the result of that final save.
func (p *Poller) Run(ctx context.Context, sess *Session) error {
	for ctx.Err() == nil {
		rep, err := p.RunPass(ctx, sess)
		if ctx.Err() != nil {
			break
		}
		if p.onPass != nil {
			p.onPass(rep, err)
		}

		wait := p.pollDelay()
		if err != nil {
			p.log.Error("poll pass failed; recovering", logx.Err(err), logx.Duration("took", rep.Took))
			if serr := p.save(ctx, sess); serr != nil {
				p.log.Warn("state save failed", logx.Err(serr))
			}
			wait = p.recoveryDelay()
		} else {
			lvl := p.log.Debug
			if rep.Sent > 0 || rep.FetchFailed > 0 || rep.SendFailed > 0 {
				lvl = p.log.Info
			}
			lvl("poll pass done",
				logx.Int("checked", rep.Checked),
				logx.Int("sent", rep.Sent),
				logx.Int("unchanged", rep.Unchanged),
				logx.Int("empty", rep.Empty),
				logx.Int("fetch_failed", rep.FetchFailed),
				logx.Int("send_failed", rep.SendFailed),
				logx.Duration("took", rep.Took),
				logx.Duration("next_in", wait),
			)
		}

		p.wakeAt.Store(p.now().Add(wait).UnixNano())
		err = p.sleep(ctx, wait)
		p.wakeAt.Store(0)
		p.beat()
		if err != nil {
			break
		}
	}
	return p.Shutdown(sess)
}

// Shutdown persists the session state synchronously.
func (p *Poller) Shutdown(sess *Session) error {
	if sess == nil {
		return nil
	}
	if err := p.save(context.Background(), sess); err != nil {
		p.log.Error("state save on shutdown failed", logx.Err(err))
		return err
	}
	p.log.Info("state saved; stopping", logx.Int("entries", len(sess.State)))
	return nil
}
