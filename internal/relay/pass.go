package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"tweetrelay/internal/apierr"
	"tweetrelay/internal/feed"
	"tweetrelay/internal/notifier"
	logx "tweetrelay/pkg/logx"
)

// PassReport summarizes one pass.
type PassReport struct {
	Checked     int
	Sent        int
	Unchanged   int
	Empty       int
	FetchFailed int
	SendFailed  int
	Took        time.Duration
}

func (r PassReport) String() string {
	return fmt.Sprintf("checked=%d sent=%d unchanged=%d empty=%d fetch_failed=%d send_failed=%d",
		r.Checked, r.Sent, r.Unchanged, r.Empty, r.FetchFailed, r.SendFailed)
}

// RunPass checks every tracked account once and persists the state.
//
// Per-account failures (transient fetch errors, unknown accounts, failed
// sends) are logged and counted. The returned error is either the context's
// error or an unexpected failure: a non-transient fetch error, a panic, or a
// failed save.
func (p *Poller) RunPass(ctx context.Context, sess *Session) (rep PassReport, err error) {
	start := p.now()
	p.beat()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll pass panic: %v", r)
			p.log.Error("poll pass panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		rep.Took = p.now().Sub(start)
	}()

	if len(sess.Pending) > 0 {
		if err := p.resolve(ctx, sess, sess.Pending); err != nil {
			return rep, err
		}
	}

	permalink := p.permalink.Load()
	for _, acct := range sess.Accounts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		err := p.checkAccount(ctx, sess, acct, permalink, &rep)
		p.beat()
		if err != nil {
			return rep, err
		}
	}

	if err := p.save(ctx, sess); err != nil {
		return rep, fmt.Errorf("save state: %w", err)
	}
	return rep, nil
}

func (p *Poller) checkAccount(ctx context.Context, sess *Session, acct Account, permalink bool, rep *PassReport) error {
	log := p.log.With(logx.String("username", acct.Username), logx.String("account_id", acct.ID))

	post, err := p.feed.LatestPost(ctx, acct.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case apierr.IsTransient(err):
			rep.FetchFailed++
			log.Warn("fetch failed", logx.String("op", "x.user_tweets"), logx.Err(err))
			return nil
		case errors.Is(err, feed.ErrAccountNotFound):
			rep.FetchFailed++
			log.Warn("account unavailable", logx.String("op", "x.user_tweets"), logx.Err(err))
			return nil
		default:
			return fmt.Errorf("fetch @%s: %w", acct.Username, err)
		}
	}
	if post == nil {
		rep.Empty++
		return nil
	}

	last := sess.State[acct.ID]
	if post.ID == last {
		rep.Unchanged++
		return nil
	}

	text := notifier.FormatPost(acct.Username, post, permalink)
	if err := p.notifier.Send(ctx, text, post.MediaURLs); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.SendFailed++
		log.Error("relay failed; will retry next pass",
			logx.String("op", "telegram.send"),
			logx.String("post_id", post.ID),
			logx.Err(err),
		)
		return nil
	}

	sess.State[acct.ID] = post.ID
	rep.Sent++
	log.Info("post relayed",
		logx.String("post_id", post.ID),
		logx.String("previous_id", last),
		logx.Int("media", len(post.MediaURLs)),
	)
	return nil
}

// save persists the session state. It runs even when ctx is already
// cancelled so shutdown can flush.
func (p *Poller) save(ctx context.Context, sess *Session) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	return p.store.Save(sctx, sess.State)
}
