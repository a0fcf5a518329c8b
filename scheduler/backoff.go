// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"math/rand"
	"time"
)

type backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  func(limit time.Duration) time.Duration
}

// delay returns min(initial*2^(attempt-1), max) plus up to 25% jitter,
// never more than max.
func (b *backoff) delay(attempt int) time.Duration {
	d := b.initial
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}

	d += b.jitter(d / 4)
	if d > b.max {
		d = b.max
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit) + 1))
}
