package analysis

import "time"

// Options tunes the submission controller.
type Options struct {
	// Simulated progress: starts at ProgressStart, grows by ProgressStep
	// every ProgressInterval and never exceeds ProgressCap until the
	// backend answers.
	ProgressInterval time.Duration
	ProgressStart    int
	ProgressStep     int
	ProgressCap      int

	// RequestTimeout bounds a single predict call.
	RequestTimeout time.Duration
}

// DefaultOptions returns default controller options
func DefaultOptions() Options {
	return Options{
		ProgressInterval: 800 * time.Millisecond,
		ProgressStart:    10,
		ProgressStep:     5,
		ProgressCap:      85,
		RequestTimeout:   60 * time.Second,
	}
}

// WithProgress returns options with a custom progress schedule
func (opts Options) WithProgress(interval time.Duration, start, step, ceiling int) Options {
	opts.ProgressInterval = interval
	opts.ProgressStart = start
	opts.ProgressStep = step
	opts.ProgressCap = ceiling
	return opts
}

// WithRequestTimeout returns options with a custom predict timeout
func (opts Options) WithRequestTimeout(timeout time.Duration) Options {
	opts.RequestTimeout = timeout
	return opts
}

// normalized replaces unusable values with defaults.
func (opts Options) normalized() Options {
	def := DefaultOptions()
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = def.ProgressStep
	}
	if opts.ProgressCap <= 0 || opts.ProgressCap >= 100 {
		opts.ProgressCap = def.ProgressCap
	}
	if opts.ProgressStart < 0 || opts.ProgressStart > opts.ProgressCap {
		opts.ProgressStart = def.ProgressStart
		if opts.ProgressStart > opts.ProgressCap {
			opts.ProgressStart = opts.ProgressCap
		}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	return opts
}
