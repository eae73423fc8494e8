package job

// Options configures per-job behavior.
type Options struct {
	// MaxRetries overrides the registry default when set.
	MaxRetries *int

	// NoRetry sends the first failure straight to the dead letter stream.
	// It takes precedence over MaxRetries.
	NoRetry bool
}

// Option is a functional option for configuring a job registration.
type Option func(*Options)

// WithMaxRetries sets the number of failed attempts after which the
// message is dead-lettered.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = &n
	}
}

// WithoutRetry disables retries for the job.
func WithoutRetry() Option {
	return func(o *Options) {
		o.NoRetry = true
	}
}

// resolve returns the effective retry cap.
func (o Options) resolve(fallback int) int {
	switch {
	case o.NoRetry:
		return 0
	case o.MaxRetries != nil:
		return *o.MaxRetries
	default:
		return fallback
	}
}
