package punt

import "time"

// Config holds configuration for a punt worker.
type Config struct {
	// Topic selects the stream jobs are appended to and read from. The
	// retry set and dead letter stream are shared by all topics, so one
	// broker should serve a single topic.
	Topic string

	// Group is the consumer group name shared by all workers of a topic.
	Group string

	// Consumer names this worker inside the group. It must be stable
	// across restarts: crash recovery only replays entries left pending
	// for the same consumer name.
	Consumer string

	// BlockTimeout bounds each live read. It is also the upper bound on how
	// long a shutdown request waits to be observed.
	BlockTimeout time.Duration

	// RetryInterval is how often the retry scheduler promotes due entries.
	RetryInterval time.Duration

	// MaxRetries is the retry cap given to handlers registered without an
	// explicit one. Zero dead-letters a job on its first failure; a negative
	// value selects DefaultMaxRetries.
	MaxRetries int

	// RateLimit caps live reads per second. Zero disables throttling.
	RateLimit float64

	// RateBurst is the token-bucket burst for RateLimit. Defaults to 1.
	RateBurst int

	// Verbose enables per-message debug logging in the dispatch loop.
	Verbose bool
}

// DefaultConfig returns a Config with the canonical names and timings.
func DefaultConfig() Config {
	return Config{
		Topic:         DefaultTopic,
		Group:         DefaultGroup,
		Consumer:      DefaultConsumer,
		BlockTimeout:  5 * time.Second,
		RetryInterval: 1 * time.Second,
		MaxRetries:    DefaultMaxRetries,
	}
}

// StreamKey returns the stream key for the configured topic.
func (c Config) StreamKey() string { return StreamKey(c.Topic) }
