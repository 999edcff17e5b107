package notifier

import (
	"strings"

	"tweetrelay/internal/feed"
)

const mediaHeader = "\n\nMedia:\n"

// ComposeBody appends the media section to text. Without media the text is
// returned unchanged.
func ComposeBody(text string, mediaURLs []string) string {
	links := make([]string, 0, len(mediaURLs))
	for _, u := range mediaURLs {
		if u = strings.TrimSpace(u); u != "" {
			links = append(links, u)
		}
	}
	if len(links) == 0 {
		return text
	}
	return text + mediaHeader + strings.Join(links, "\n")
}

// FormatPost renders the message text for a post of username.
func FormatPost(username string, p *feed.Post, permalink bool) string {
	if p == nil {
		return ""
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")

	var b strings.Builder
	b.WriteString("New post from @")
	b.WriteString(username)
	b.WriteString(":\n\n")
	b.WriteString(p.Text)
	if permalink && p.ID != "" {
		b.WriteString("\n\n")
		b.WriteString(Permalink(username, p.ID))
	}
	return b.String()
}

func Permalink(username, postID string) string {
	return "https://x.com/" + username + "/status/" + postID
}
