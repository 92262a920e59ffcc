package mada

import "go.uber.org/zap"

// config holds the tunables a DoubleArray is constructed with.
// Defaults match spec.md's implementation-defined constants.
type config struct {
	logger             *zap.Logger
	initialCapacity    int
	growthUnit         int
	freeListThreshold  int
}

func defaultConfig() *config {
	return &config{
		logger:            zap.NewNop(),
		initialCapacity:   DefaultInitialCapacity,
		growthUnit:        DefaultGrowthUnit,
		freeListThreshold: 3,
	}
}

// Option configures a DoubleArray at construction time.
type Option func(*config)

// WithLogger attaches a structured logger. A nil logger is treated as
// a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log == nil {
			log = zap.NewNop()
		}
		c.logger = log
	}
}

// WithInitialCapacity overrides the element count a freshly created
// backing file is pre-extended to.
func WithInitialCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.initialCapacity = n
		}
	}
}

// WithGrowthUnit overrides the element count added per growth step.
func WithGrowthUnit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.growthUnit = n
		}
	}
}

// WithFreeListThreshold overrides the minimum number of qualifying
// free slots required before the free-list subsystem activates.
// spec.md allows any threshold >= 1.
func WithFreeListThreshold(n int) Option {
	return func(c *config) {
		if n >= 1 {
			c.freeListThreshold = n
		}
	}
}
