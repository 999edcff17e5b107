package notifier

import "time"

// Config controls delivery pacing and retries.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration

	DisablePreview bool
}
