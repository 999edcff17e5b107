// Package relay is the poll loop: it resolves the configured usernames,
// then repeatedly fetches each account's newest post and forwards posts it
// has not relayed yet.
//
// # Lifecycle
//
// Bootstrap loads persisted state and resolves usernames into a Session.
// Run executes passes until its context is cancelled, sleeping the poll
// interval between passes and the shorter recovery interval after a pass
// that failed unexpectedly. On cancellation the session state is saved
// before Run returns.
//
// # Delivery
//
// Delivery is at-least-once: the last-seen id of an account only advances
// after the notifier accepted the message, so a failed send is retried on
// the next pass.
package relay
