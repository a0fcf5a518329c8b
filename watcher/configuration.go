// SPDX-License-Identifier: GPL-3.0-or-later
package watcher

import (
	"fmt"
	"time"
)

// maxIdleRefresh stays below the 30 minute inactivity limit of RFC 2177.
const maxIdleRefresh = 29 * time.Minute

type ConfigFunc func(c *configuration) error

// IdleRefresh ends and re-issues IDLE after d without changes.
func IdleRefresh(d time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if d <= 0 || d >= maxIdleRefresh {
			return fmt.Errorf("IdleRefresh must be between 0 and %s, got %s", maxIdleRefresh, d)
		}

		c.IdleRefresh = d
		return nil
	}
}

// PollInterval is the NOOP interval used when the server cannot IDLE.
func PollInterval(d time.Duration) ConfigFunc {
	return func(c *configuration) error {
		if d <= 0 {
			return fmt.Errorf("PollInterval must be positive, got %s", d)
		}

		c.PollInterval = d
		return nil
	}
}

type configuration struct {
	IdleRefresh  time.Duration
	PollInterval time.Duration
}

func defaultConfiguration() *configuration {
	return &configuration{
		IdleRefresh:  28 * time.Minute,
		PollInterval: 2 * time.Minute,
	}
}
