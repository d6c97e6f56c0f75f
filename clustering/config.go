package clustering

import (
	"time"

	"github.com/go-kit/log"
)

type Config struct {
	// RetentionWindow is how long the sent messages are kept for replay, and
	// how long the received message ids are remembered. It must be longer than
	// the time a node takes to join the group, otherwise the joining node may
	// miss some of the messages.
	RetentionWindow time.Duration

	// CleanupInterval is the period of the eviction task. Must be at least
	// one second.
	CleanupInterval time.Duration

	// CleanupBatchSize is the maximum number of entries evicted from each of
	// the buffers in a single cleanup run.
	CleanupBatchSize int

	// DedupShards is the number of independently locked parts of the table of
	// received messages.
	DedupShards int

	// Now returns the current time. Replaced in tests.
	Now func() time.Time

	// Logger is a go-kit logger. If not provided, the agent is silent.
	Logger log.Logger
}

// DefaultConfig creates a Config with reasonable default values.
func DefaultConfig() *Config {
	return &Config{
		RetentionWindow:  5 * time.Minute,
		CleanupInterval:  2 * time.Minute,
		CleanupBatchSize: 5000,
		DedupShards:      32,
		Now:              time.Now,
		Logger:           log.NewNopLogger(),
	}
}

func (c *Config) withDefaults() *Config {
	conf := *c
	def := DefaultConfig()

	if conf.RetentionWindow <= 0 {
		conf.RetentionWindow = def.RetentionWindow
	}

	if conf.CleanupInterval <= 0 {
		conf.CleanupInterval = def.CleanupInterval
	}

	if conf.CleanupBatchSize <= 0 {
		conf.CleanupBatchSize = def.CleanupBatchSize
	}

	if conf.DedupShards <= 0 {
		conf.DedupShards = def.DedupShards
	}

	if conf.Now == nil {
		conf.Now = def.Now
	}

	if conf.Logger == nil {
		conf.Logger = def.Logger
	}

	return &conf
}
