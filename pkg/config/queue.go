package config

import "time"

// QueueConfig contains step queue configuration. These values control message
// delivery semantics: how long a received message stays invisible, how long a
// receive call waits for work, and how many messages one poll may claim.
type QueueConfig struct {
	// Name is the main step queue.
	Name string `yaml:"name"`

	// DLQName is the dead-letter queue for poison and exhausted messages.
	DLQName string `yaml:"dlq_name"`

	// VisibilityTimeout is how long a received message stays hidden from
	// other consumers. A message neither deleted nor re-hidden within this
	// window is redelivered with an incremented receive count.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// WaitTime is the long-poll duration of one receive call.
	WaitTime time.Duration `yaml:"wait_time"`

	// MaxMessages is the per-receive batch cap.
	MaxMessages int `yaml:"max_messages"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Name:              "steps",
		DLQName:           "steps-dlq",
		VisibilityTimeout: 300 * time.Second,
		WaitTime:          20 * time.Second,
		MaxMessages:       10,
	}
}
