// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"fmt"
	"time"
)

type ConfigFunc func(c *configuration) error

func BatchSize(size int) ConfigFunc {
	return func(c *configuration) error {
		if size <= 0 {
			return fmt.Errorf("BatchSize must be positive, got %d", size)
		}

		c.BatchSize = size
		return nil
	}
}

func MaxRetries(retries int) ConfigFunc {
	return func(c *configuration) error {
		if retries < 0 {
			return fmt.Errorf("MaxRetries must not be negative, got %d", retries)
		}

		c.MaxRetries = retries
		return nil
	}
}

func Backoff(initial, max time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if initial <= 0 {
			return fmt.Errorf("initial backoff must be positive")
		}
		if max < initial {
			return fmt.Errorf("maximum backoff %s is below initial backoff %s", max, initial)
		}

		c.BackoffInitial = initial
		c.BackoffMax = max
		return nil
	}
}

// FlagWindow limits flag reconciliation without CONDSTORE to the newest n
// cached messages. Zero reconciles all of them.
func FlagWindow(n int) ConfigFunc {
	return func(c *configuration) error {
		if n < 0 {
			return fmt.Errorf("FlagWindow must not be negative, got %d", n)
		}

		c.FlagWindow = n
		return nil
	}
}

type configuration struct {
	BatchSize  int
	MaxRetries int

	BackoffInitial time.Duration
	BackoffMax     time.Duration

	FlagWindow int
}

func defaultConfiguration() *configuration {
	return &configuration{
		BatchSize:      50,
		MaxRetries:     5,
		BackoffInitial: time.Second,
		BackoffMax:     5 * time.Minute,
	}
}
