package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"tweetrelay/internal/apierr"
	"tweetrelay/internal/config"
	"tweetrelay/internal/feed"
	"tweetrelay/internal/state"
	logx "tweetrelay/pkg/logx"
)

// Check validates the configuration and prints a summary to w. With resolve
// set it also looks up every account id against the X API.
func Check(ctx context.Context, cfgPath string, resolve bool, w io.Writer) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return err
	}
	sc, err := mapStateConfig(cfg)
	if err != nil {
		return err
	}
	target, err := mapRelayTarget(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "config ok")
	fmt.Fprintf(w, "  channel:  %s\n", target)
	fmt.Fprintf(w, "  state:    %s (%s)\n", sc.Path, sc.Driver)
	fmt.Fprintf(w, "  poll:     %s (recovery %s)\n", rc.Poll, rc.Recovery)
	fmt.Fprintf(w, "  accounts: %d\n", len(rc.Usernames))
	if !resolve {
		for _, u := range rc.Usernames {
			fmt.Fprintf(w, "    @%s\n", u)
		}
		return nil
	}

	fc, err := mapFeedConfig(cfg)
	if err != nil {
		return err
	}
	client, err := feed.New(fc, logx.Nop())
	if err != nil {
		return err
	}
	failed := 0
	for _, u := range rc.Usernames {
		id, err := client.ResolveAccountID(ctx, u)
		switch {
		case err == nil:
			fmt.Fprintf(w, "    @%s -> %s\n", u, id)
		case errors.Is(err, feed.ErrAccountNotFound):
			failed++
			fmt.Fprintf(w, "    @%s -> not found\n", u)
		case apierr.IsTransient(err):
			failed++
			fmt.Fprintf(w, "    @%s -> temporary failure: %v\n", u, err)
		default:
			failed++
			fmt.Fprintf(w, "    @%s -> error: %v\n", u, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if failed == len(rc.Usernames) {
		return fmt.Errorf("no account could be resolved")
	}
	return nil
}

// DumpState prints the persisted last-seen map as indented JSON with sorted
// keys. The store is opened read-only: corrupt state is reported as an error
// and left where it is, and a missing store prints an empty list.
func DumpState(ctx context.Context, cfgPath string, w io.Writer) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return err
	}
	sc, err := mapStateConfig(cfg)
	if err != nil {
		return err
	}
	sc.ReadOnly = true
	st, err := state.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	seen, err := st.Load(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type entry struct {
		AccountID string  `json:"account_id"`
		PostID    *string `json:"post_id"`
	}
	out := make([]entry, 0, len(ids))
	for _, id := range ids {
		e := entry{AccountID: id}
		if v := seen[id]; v != "" {
			e.PostID = &v
		}
		out = append(out, e)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
