package queue

import "time"

// Options configures the queue manager.
type Options struct {
	// Concurrency is the maximum number of jobs processing at once,
	// enforced structurally by the size of the worker pool.
	Concurrency int

	// DefaultMaxRetries applies when an enqueue request leaves MaxRetries
	// unset. Retries counts re-attempts, so a job runs at most
	// MaxRetries+1 times.
	DefaultMaxRetries int

	// Backoff delay before retry n is BackoffBase^n * BackoffMultiplier.
	BackoffBase       float64
	BackoffMultiplier time.Duration

	// PollInterval is the safety-net tick that fills idle slots when no
	// wake signal arrived (e.g. right after a restart).
	PollInterval time.Duration

	// StuckTimeout is how long a job may sit in processing before the
	// reaper fails it.
	StuckTimeout time.Duration

	// ReaperInterval is how often the stuck-job sweep runs.
	ReaperInterval time.Duration

	// RetentionPeriod, when positive, enables the hourly purge of
	// completed jobs older than this.
	RetentionPeriod time.Duration

	ShutdownTimeout time.Duration

	statusCache    StatusCache
	statusCacheTTL time.Duration
}

func defaultOptions() Options {
	return Options{
		Concurrency:       4,
		DefaultMaxRetries: 3,
		BackoffBase:       2,
		BackoffMultiplier: time.Second,
		PollInterval:      5 * time.Second,
		StuckTimeout:      30 * time.Minute,
		ReaperInterval:    time.Minute,
		ShutdownTimeout:   30 * time.Second,
		statusCacheTTL:    30 * time.Minute,
	}
}

// Option is a functional option for configuring the manager.
type Option func(*Options)

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithDefaultMaxRetries sets the retry budget used when enqueue requests
// leave it unset.
func WithDefaultMaxRetries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.DefaultMaxRetries = n
		}
	}
}

// WithBackoff sets the exponential backoff parameters.
func WithBackoff(base float64, multiplier time.Duration) Option {
	return func(o *Options) {
		if base > 0 {
			o.BackoffBase = base
		}
		if multiplier > 0 {
			o.BackoffMultiplier = multiplier
		}
	}
}

// WithPollInterval sets the safety-net dispatch tick.
func WithPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithStuckTimeout sets how long processing jobs may go without a
// heartbeat before the reaper reclaims them.
func WithStuckTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.StuckTimeout = d
		}
	}
}

// WithReaperInterval sets the stuck-job sweep cadence.
func WithReaperInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ReaperInterval = d
		}
	}
}

// WithRetention enables the completed-job purge.
func WithRetention(d time.Duration) Option {
	return func(o *Options) {
		o.RetentionPeriod = d
	}
}

// WithShutdownTimeout sets the drain deadline on Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithStatusCache mirrors every persisted transition into a cache with the
// given TTL. Writes happen before callbacks fire.
func WithStatusCache(c StatusCache, ttl time.Duration) Option {
	return func(o *Options) {
		o.statusCache = c
		if ttl > 0 {
			o.statusCacheTTL = ttl
		}
	}
}
