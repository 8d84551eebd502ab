package store

import "time"

// DefaultTombstoneTTL is how long terminal sessions stay visible.
const DefaultTombstoneTTL = time.Hour

type options struct {
	now          func() time.Time
	tombstoneTTL time.Duration
	keyPrefix    string
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTombstoneTTL sets how long completed, failed and expired sessions are
// kept so repeated completions are rejected as not pending.
func WithTombstoneTTL(ttl time.Duration) Option {
	return func(o *options) { o.tombstoneTTL = ttl }
}

// WithKeyPrefix sets the key prefix used by the redis stores.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{
		now:          time.Now,
		tombstoneTTL: DefaultTombstoneTTL,
		keyPrefix:    "zklogin:",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
