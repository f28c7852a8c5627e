package engine

import "time"

// Options holds the tunable knobs for a categorization run. Values are
// copied at call time, so a caller can never mutate an in-flight run.
type Options struct {
	// MinConfidence is the floor below which a candidate is discarded
	// and the result degrades to no_match.
	MinConfidence float64

	// AutoCategorizeThreshold is the confidence at or above which the
	// winning category is written back to the expense store.
	AutoCategorizeThreshold float64

	// HighConfidenceThreshold marks results callers may apply without
	// review. It does not change engine behavior, only result metadata.
	HighConfidenceThreshold float64

	// IncludeAlternatives controls whether runner-up categories are
	// attached to fuzzy results.
	IncludeAlternatives bool

	// MaxAlternatives caps the number of runner-up categories.
	MaxAlternatives int

	// CheckUserPreferences enables the merchant override short-circuit.
	CheckUserPreferences bool

	// AutoUpdate enables the write-back step.
	AutoUpdate bool

	// Timeout bounds a single categorize call. When it expires the call
	// returns a degraded error result instead of blocking.
	Timeout time.Duration

	// Parallel runs batch items on a worker pool instead of in order.
	Parallel bool

	// MaxWorkers is the batch worker pool size.
	MaxWorkers int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MinConfidence:           0.5,
		AutoCategorizeThreshold: 0.70,
		HighConfidenceThreshold: 0.85,
		IncludeAlternatives:     true,
		MaxAlternatives:         3,
		CheckUserPreferences:    true,
		AutoUpdate:              true,
		Timeout:                 25 * time.Millisecond,
		Parallel:                false,
		MaxWorkers:              4,
	}
}

// Override mutates a copy of Options. Overrides compose left to right.
type Override func(*Options)

// WithMinConfidence sets the discard floor.
func WithMinConfidence(v float64) Override {
	return func(o *Options) { o.MinConfidence = v }
}

// WithAutoCategorizeThreshold sets the write-back threshold.
func WithAutoCategorizeThreshold(v float64) Override {
	return func(o *Options) { o.AutoCategorizeThreshold = v }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Override {
	return func(o *Options) { o.Timeout = d }
}

// WithAutoUpdate toggles the write-back step.
func WithAutoUpdate(enabled bool) Override {
	return func(o *Options) { o.AutoUpdate = enabled }
}

// WithAlternatives toggles runner-up categories and caps their count.
func WithAlternatives(include bool, maxCount int) Override {
	return func(o *Options) {
		o.IncludeAlternatives = include
		o.MaxAlternatives = maxCount
	}
}

// WithUserPreferences toggles the merchant override short-circuit.
func WithUserPreferences(enabled bool) Override {
	return func(o *Options) { o.CheckUserPreferences = enabled }
}

// WithParallel enables the batch worker pool with the given size.
func WithParallel(workers int) Override {
	return func(o *Options) {
		o.Parallel = true
		if workers > 0 {
			o.MaxWorkers = workers
		}
	}
}

// apply returns a copy of o with every override applied and out-of-range
// values pulled back to usable defaults.
func (o Options) apply(overrides ...Override) Options {
	for _, ov := range overrides {
		ov(&o)
	}
	return o.normalized()
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.MinConfidence <= 0 || o.MinConfidence > 1 {
		o.MinConfidence = def.MinConfidence
	}
	if o.AutoCategorizeThreshold <= 0 || o.AutoCategorizeThreshold > 1 {
		o.AutoCategorizeThreshold = def.AutoCategorizeThreshold
	}
	if o.MaxAlternatives < 0 {
		o.MaxAlternatives = def.MaxAlternatives
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = def.MaxWorkers
	}
	return o
}
