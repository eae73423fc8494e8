package punt

// Key naming shared with every producer and worker of a deployment,
// including ones written in other languages. Changing any of these breaks
// cross-process compatibility.
const (
	// Namespace prefixes every key punt touches.
	Namespace = "__punt__"

	// DefaultTopic is the topic used when none is configured.
	DefaultTopic = "__default__"

	// DefaultGroup is the consumer group all workers join.
	DefaultGroup = "workers"

	// DefaultConsumer is the consumer name used when none is configured.
	DefaultConsumer = "worker"

	// RetrySetKey is the sorted set holding retries until they fall due.
	RetrySetKey = Namespace + ":__retryset__"

	// DeadLetterKey is the stream receiving messages that ran out of retries.
	DeadLetterKey = Namespace + ":__deadletter__"

	// DefaultMaxRetries is the retry cap for handlers registered without one.
	DefaultMaxRetries = 20
)

// Stream record field names.
const (
	FieldJob     = "job"
	FieldMessage = "message"
)

// StreamKey returns the stream key for a topic: __punt__:{topic}
func StreamKey(topic string) string { return Namespace + ":" + topic }
