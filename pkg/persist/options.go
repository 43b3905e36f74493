package persist

import "log/slog"

// DefaultCacheSize is the number of nodes a Handle keeps materialized.
const DefaultCacheSize = 10_000

// ProgressFunc is told how many nodes an export has written.
type ProgressFunc func(completed, total int)

// Option tunes Export and Load.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	progress  ProgressFunc
	cacheSize int
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProgress reports export progress after every node. A panicking
// callback is logged and ignored.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithCacheSize bounds the nodes a loaded Handle keeps in memory.
func WithCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.cacheSize = n
		}
	}
}
