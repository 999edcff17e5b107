// Package feed reads recent original posts of X accounts through the
// X API v2.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"golang.org/x/time/rate"

	logx "tweetrelay/pkg/logx"
)

// ErrAccountNotFound is returned when a username does not exist or is
// unavailable.
var ErrAccountNotFound = errors.New("account not found")

// Post is the newest original post of an account.
type Post struct {
	ID        string
	AuthorID  string
	Text      string
	CreatedAt time.Time
	// MediaURLs lists attachment links in attachment order.
	MediaURLs []string
}

type Config struct {
	BaseURL     string // default: https://api.twitter.com
	BearerToken string
	Timeout     time.Duration

	// RequestsPerWindow paces requests over RateWindow (0 = unpaced).
	RequestsPerWindow int

	HTTPClient *http.Client
}

// RateWindow is the X API rate-limit window.
const RateWindow = 15 * time.Minute

// The timeline endpoint rejects max_results below 5.
const timelinePage = 5

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	api     *twitter.Client
	limiter *rate.Limiter
	log     logx.Logger
}

type bearer struct{ token string }

func (b bearer) Add(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("User-Agent", "tweetrelay")
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = "https://api.twitter.com"
	}
	raw = strings.TrimRight(raw, "/")
	base, err := url.Parse(raw + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("feed: invalid base url %q", cfg.BaseURL)
	}
	token := strings.TrimSpace(cfg.BearerToken)
	if token == "" {
		return nil, errors.New("feed: bearer token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	var lim *rate.Limiter
	if cfg.RequestsPerWindow > 0 {
		lim = rate.NewLimiter(rate.Every(RateWindow/time.Duration(cfg.RequestsPerWindow)), 1)
	}

	return &Client{
		base: base,
		api: &twitter.Client{
			Authorizer: bearer{token: token},
			Client:     hc,
			Host:       raw,
		},
		limiter: lim,
		log:     log.With(logx.String("comp", "feed")),
	}, nil
}

// ResolveAccountID returns the numeric account id of username.
func (c *Client) ResolveAccountID(ctx context.Context, username string) (string, error) {
	const op = "x.user_lookup"
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return "", fmt.Errorf("%w: empty username", ErrAccountNotFound)
	}
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.api.UserNameLookup(ctx, []string{username}, twitter.UserLookupOpts{})
	c.trace(op, start, err)
	if err != nil {
		return "", classify(ctx, op, "@"+username, err)
	}

	var errs []*twitter.ErrorObj
	if resp != nil && resp.Raw != nil {
		for _, u := range resp.Raw.Users {
			if u != nil && u.ID != "" {
				return u.ID, nil
			}
		}
		errs = resp.Raw.Errors
	}
	if hasNotFound(errs) {
		return "", fmt.Errorf("%w: @%s", ErrAccountNotFound, username)
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%s @%s: %s", op, username, describe(errs[0]))
	}
	return "", transient(op, 0, 0, errors.New("empty response"))
}

// LatestPost returns the newest original (non-repost) post of accountID,
// or nil when the account has none.
func (c *Client) LatestPost(ctx context.Context, accountID string) (*Post, error) {
	const op = "x.user_tweets"
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("feed: empty account id")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.api.UserTweetTimeline(ctx, accountID, twitter.UserTweetTimelineOpts{
		Excludes:    []twitter.Exclude{twitter.ExcludeRetweets},
		MaxResults:  timelinePage,
		Expansions:  []twitter.Expansion{twitter.ExpansionAttachmentsMediaKeys},
		MediaFields: []twitter.MediaField{twitter.MediaFieldMediaKey, twitter.MediaFieldURL, twitter.MediaFieldPreviewImageURL, twitter.MediaFieldType},
		TweetFields: []twitter.TweetField{twitter.TweetFieldCreatedAt, twitter.TweetFieldAuthorID, twitter.TweetFieldAttachments},
	})
	c.trace(op, start, err)
	if err != nil {
		return nil, classify(ctx, op, "id "+accountID, err)
	}
	if resp == nil || resp.Raw == nil {
		return nil, nil
	}

	var t *twitter.TweetObj
	for _, tw := range resp.Raw.Tweets {
		if tw != nil {
			t = tw
			break
		}
	}
	if t == nil {
		if hasNotFound(resp.Raw.Errors) {
			return nil, fmt.Errorf("%w: id %s", ErrAccountNotFound, accountID)
		}
		return nil, nil
	}

	p := &Post{
		ID:       t.ID,
		AuthorID: t.AuthorID,
		Text:     t.Text,
	}
	if p.AuthorID == "" {
		p.AuthorID = accountID
	}
	if t.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
			p.CreatedAt = ts
		}
	}
	if t.Attachments != nil && resp.Raw.Includes != nil {
		p.MediaURLs = c.mediaURLs(t.Attachments.MediaKeys, resp.Raw.Includes.Media)
	}
	return p, nil
}

// mediaURLs resolves keys against the included media objects, keeping the
// attachment order. Photos carry url; videos and GIFs only a preview image.
func (c *Client) mediaURLs(keys []string, media []*twitter.MediaObj) []string {
	if len(keys) == 0 {
		return nil
	}
	byKey := make(map[string]*twitter.MediaObj, len(media))
	for _, m := range media {
		if m != nil {
			byKey[m.Key] = m
		}
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		m, ok := byKey[k]
		if !ok {
			continue
		}
		link := strings.TrimSpace(m.URL)
		if link == "" {
			link = strings.TrimSpace(m.PreviewImageURL)
		}
		if link == "" {
			continue
		}
		out = append(out, c.absolute(link))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Client) absolute(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.IsAbs() {
		return link
	}
	return c.base.ResolveReference(u).String()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) trace(op string, start time.Time, err error) {
	c.log.Trace("x api call",
		logx.String("op", op),
		logx.Duration("took", time.Since(start)),
		logx.Bool("ok", err == nil),
	)
}
