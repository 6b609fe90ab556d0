package recorder

import (
	"errors"
	"time"

	"github.com/rbright/parley/internal/vad"
)

// Config holds the chunking and VAD parameters.
type Config struct {
	MaxDuration   time.Duration
	Silence       time.Duration
	FlushDelay    time.Duration
	MinChunkBytes int
	TickInterval  time.Duration
	Threshold     float64
}

func DefaultConfig() Config {
	return Config{
		MaxDuration:   180 * time.Second,
		Silence:       3 * time.Second,
		FlushDelay:    100 * time.Millisecond,
		MinChunkBytes: 1000,
		TickInterval:  vad.DefaultInterval,
		Threshold:     vad.DefaultThreshold,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxDuration <= 0:
		return errors.New("max duration must be > 0")
	case c.Silence <= 0:
		return errors.New("silence limit must be > 0")
	case c.FlushDelay < 0:
		return errors.New("flush delay must be >= 0")
	case c.MinChunkBytes < 0:
		return errors.New("min chunk bytes must be >= 0")
	case c.TickInterval <= 0:
		return errors.New("tick interval must be > 0")
	}
	return nil
}
