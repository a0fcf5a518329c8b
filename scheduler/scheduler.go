// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Mode int

const (
	Background = Mode(iota)
	Foreground
)

func (m Mode) String() string {
	if m == Foreground {
		return "foreground"
	}
	return "background"
}

// Scheduler runs at most one sync job per folder of one account.
type Scheduler struct {
	account     *domain.Account
	sessions    domain.SessionFactory
	persistence domain.Persistence
	publisher   domain.Publisher
	watcher     domain.Watcher

	configuration *configuration
	backoff       *backoff
	after         func(time.Duration) <-chan time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[domain.FolderID]*job
	closed bool
	wg     sync.WaitGroup

	l *logrus.Logger
}

func NewScheduler(account *domain.Account, sessions domain.SessionFactory, persistence domain.Persistence, publisher domain.Publisher, watcher domain.Watcher, configFunc ...ConfigFunc) (*Scheduler, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		account:       account,
		sessions:      sessions,
		persistence:   persistence,
		publisher:     publisher,
		watcher:       watcher,
		configuration: config,
		backoff: &backoff{
			initial: config.BackoffInitial,
			max:     config.BackoffMax,
			jitter:  randomJitter,
		},
		after:  time.After,
		ctx:    ctx,
		cancel: cancel,
		jobs:   map[domain.FolderID]*job{},
		l:      log.Logger(log.LOG_SCHEDULER),
	}, nil
}

// RequestSync makes sure a job for folder is running. The returned channel
// receives exactly one value: nil once the job is watching the folder, or the
// error it ended with. Concurrent requests share the running job.
func (s *Scheduler) RequestSync(folder domain.FolderID, mode Mode) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		done <- domain.NewError(domain.KindCancelled, "request sync", context.Canceled)
		return done
	}

	j, ok := s.jobs[folder]
	if !ok {
		j = s.newJob(folder)
		j.waiters = append(j.waiters, done)
		s.jobs[folder] = j
		s.wg.Add(1)
		metrics.ActiveJobs.Inc()
		go j.run()
		return done
	}

	switch j.state {
	case StateWatching:
		if mode == Background {
			done <- nil
			return done
		}
		j.waiters = append(j.waiters, done)
		if j.stopWatch != nil {
			j.stopWatch()
		} else {
			j.relist = true
		}
	case StateBackoff:
		j.waiters = append(j.waiters, done)
		if mode == Foreground {
			select {
			case j.wake <- struct{}{}:
			default:
			}
		}
	default:
		j.waiters = append(j.waiters, done)
	}

	j.l.WithFields(logrus.Fields{"mode": mode, "state": j.state}).Debug("Joined running sync job")
	return done
}

func (s *Scheduler) newJob(folder domain.FolderID) *job {
	ctx, cancel := context.WithCancel(s.ctx)
	return &job{
		s:      s,
		folder: folder,
		ctx:    ctx,
		cancel: cancel,
		state:  StateListing,
		wake:   make(chan struct{}, 1),
		l: s.l.WithFields(logrus.Fields{
			"account": s.account.Id,
			"folder":  folder,
			"job":     uuid.NewString(),
		}),
	}
}

// CancelSync stops the job of folder. It does not wait for the job to end.
func (s *Scheduler) CancelSync(folder domain.FolderID) {
	s.mu.Lock()
	j, ok := s.jobs[folder]
	s.mu.Unlock()

	if ok {
		j.cancel()
	}
}

func (s *Scheduler) State(folder domain.FolderID) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[folder]
	if !ok {
		return StateIdle
	}
	return j.state
}

// Close cancels every job and waits until all of them ended.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
