// Package notifier delivers relayed posts to the configured Telegram channel.
//
// Each message is the post text followed, when the post has attachments, by
// a "Media:" section with one link per line. Sends are paced by a token
// bucket and retried with jittered exponential backoff; a send that still
// fails is reported as a transient error so the post is retried on the next
// poll pass.
package notifier
