package multipart

import (
	"fmt"
	"runtime"
	"time"
)

// DefaultPartSize is the part size used when none is configured (1 MiB).
const DefaultPartSize = 1024 * 1024

// Config holds configuration for the coordinator and its part uploader.
type Config struct {
	// PartSize is the size of every part except the last one.
	// Default: 1 MiB
	PartSize int64

	// Concurrency is the maximum number of parts in flight.
	// Zero means one goroutine per part.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// MaxAttemptsPerPart limits the attempts for a single part.
	// Zero means a part is retried until it succeeds or fails permanently.
	// Default: 0
	MaxAttemptsPerPart int

	// RetryWaitMin and RetryWaitMax bound the exponential backoff between attempts of a part.
	// Default: 1 second and 30 seconds
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HungThreshold is the duration after which a part upload is considered hung
	// if it exceeds the average part upload time by this amount.
	// Zero disables hung detection.
	// Default: 30 seconds
	HungThreshold time.Duration

	// PartTimeout bounds a single part attempt. Zero leaves it to the transport.
	PartTimeout time.Duration

	// Description is stored with the archive by the vault.
	Description string

	// StartTime is the reference point of Result.Duration.
	// When zero, the duration is measured from session initiation.
	StartTime time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PartSize:           DefaultPartSize,
		Concurrency:        DefaultConcurrency(),
		MaxAttemptsPerPart: 0,
		RetryWaitMin:       time.Second,
		RetryWaitMax:       30 * time.Second,
		HungThreshold:      30 * time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

func (c Config) validate() error {
	if c.PartSize <= 0 {
		return fmt.Errorf("part size must be positive, got %d", c.PartSize)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.MaxAttemptsPerPart < 0 {
		return fmt.Errorf("max attempts per part must not be negative, got %d", c.MaxAttemptsPerPart)
	}
	if c.RetryWaitMin < 0 || c.RetryWaitMax < c.RetryWaitMin {
		return fmt.Errorf("invalid retry wait bounds: min %s, max %s", c.RetryWaitMin, c.RetryWaitMax)
	}
	return nil
}
