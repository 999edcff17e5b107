package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"tweetrelay/internal/apierr"
	"tweetrelay/internal/feed"
	"tweetrelay/internal/state"
	logx "tweetrelay/pkg/logx"
)

// Account is a resolved tracked account.
type Account struct {
	Username string
	ID       string
}

// Session is the loop's owned state: the tracked accounts and what was last
// relayed for each of them.
type Session struct {
	Accounts []Account
	// Pending holds usernames whose resolution failed transiently; they are
	// retried at the start of every pass.
	Pending []string
	State   state.LastSeen
}

// insert places a at its configured position so accounts resolved late
// keep the polling order of the configuration.
func (s *Session) insert(a Account, rank map[string]int) {
	r, ok := rank[strings.ToLower(a.Username)]
	if !ok {
		s.Accounts = append(s.Accounts, a)
		return
	}
	i := len(s.Accounts)
	for j, other := range s.Accounts {
		if or, ok := rank[strings.ToLower(other.Username)]; ok && or > r {
			i = j
			break
		}
	}
	s.Accounts = slices.Insert(s.Accounts, i, a)
}

func (s *Session) tracks(id string) bool {
	for _, a := range s.Accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// Bootstrap loads persisted state and resolves every configured username.
//
// Corrupt state is logged and replaced by an empty map; any other load
// failure is returned. Unknown usernames are dropped. It returns
// ErrNoAccounts when nothing could be resolved.
func (p *Poller) Bootstrap(ctx context.Context) (*Session, error) {
	st, err := p.store.Load(ctx)
	if err != nil {
		var ce *state.CorruptStateError
		if !errors.As(err, &ce) {
			return nil, fmt.Errorf("load state: %w", err)
		}
		p.log.Warn("state unreadable; starting from empty state", logx.Err(err))
		st = state.LastSeen{}
	}
	if st == nil {
		st = state.LastSeen{}
	}

	sess := &Session{State: st}
	if err := p.resolve(ctx, sess, p.usernames); err != nil {
		return nil, err
	}
	if len(sess.Accounts) == 0 {
		return nil, ErrNoAccounts
	}

	p.log.Info("tracking accounts",
		logx.Int("accounts", len(sess.Accounts)),
		logx.Int("pending", len(sess.Pending)),
		logx.Int("known_state", len(st)),
	)
	return sess, nil
}

// resolve looks up usernames and adds them to sess. Transient failures go
// back to sess.Pending; only context cancellation is returned.
func (p *Poller) resolve(ctx context.Context, sess *Session, usernames []string) error {
	var pending []string
	for _, u := range usernames {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := p.log.With(logx.String("username", u), logx.String("op", "x.user_lookup"))

		id, err := p.feed.ResolveAccountID(ctx, u)
		p.beat()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch {
			case apierr.IsTransient(err):
				log.Warn("account lookup failed; will retry", logx.Err(err))
				pending = append(pending, u)
			case errors.Is(err, feed.ErrAccountNotFound):
				log.Warn("account not found; skipping", logx.Err(err))
			default:
				log.Error("account lookup rejected; skipping", logx.Err(err))
			}
			continue
		}

		if sess.tracks(id) {
			log.Warn("account already tracked under another name", logx.String("account_id", id))
			continue
		}
		sess.insert(Account{Username: u, ID: id}, p.rank)
		if sess.State.Track(id) {
			log.Info("new account tracked", logx.String("account_id", id))
		} else {
			log.Debug("account resolved", logx.String("account_id", id))
		}
	}
	sess.Pending = pending
	return nil
}
