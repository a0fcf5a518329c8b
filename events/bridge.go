// SPDX-License-Identifier: GPL-3.0-or-later
package events

import (
	"context"
	"sync"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/metrics"

	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 256

// Bridge fans sync events out to per-folder subscriptions. It implements
// domain.Publisher.
type Bridge struct {
	mu            sync.Mutex
	queueSize     int
	subscriptions map[domain.FolderID]map[*Subscription]struct{}

	l *logrus.Logger
}

func NewBridge(queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bridge{
		queueSize:     queueSize,
		subscriptions: map[domain.FolderID]map[*Subscription]struct{}{},
		l:             log.Logger(log.LOG_EVENTS),
	}
}

// Subscribe starts delivery of the events of folder. Folder zero receives
// account level errors.
func (b *Bridge) Subscribe(folder domain.FolderID) *Subscription {
	s := &Subscription{
		bridge: b,
		folder: folder,
		size:   b.queueSize,
		events: make(chan domain.SyncEvent),
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subscriptions[folder] == nil {
		b.subscriptions[folder] = map[*Subscription]struct{}{}
	}
	b.subscriptions[folder][s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	b.l.WithField("folder", folder).Debug("Subscribed")
	return s
}

// Publish queues event for every subscriber of its folder. It blocks while a
// subscriber's queue is full, unless event is a Progress, which replaces an
// older queued Progress instead.
func (b *Bridge) Publish(ctx context.Context, event domain.SyncEvent) error {
	metrics.Events.WithLabelValues(Name(event)).Inc()

	b.mu.Lock()
	subscriptions := make([]*Subscription, 0, len(b.subscriptions[event.FolderId()]))
	for s := range b.subscriptions[event.FolderId()] {
		subscriptions = append(subscriptions, s)
	}
	b.mu.Unlock()

	for _, s := range subscriptions {
		if err := s.push(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	subscriptions := []*Subscription{}
	for _, folderSubscriptions := range b.subscriptions {
		for s := range folderSubscriptions {
			subscriptions = append(subscriptions, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subscriptions {
		s.Unsubscribe()
	}
}

func (b *Bridge) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscriptions[s.folder], s)
	if len(b.subscriptions[s.folder]) == 0 {
		delete(b.subscriptions, s.folder)
	}
}

// Subscription is an ordered stream of the events of one folder.
type Subscription struct {
	bridge *Bridge
	folder domain.FolderID
	size   int

	mu      sync.Mutex
	queue   []domain.SyncEvent
	pending *domain.Progress
	closed  bool

	events chan domain.SyncEvent
	ready  chan struct{}
	space  chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *Subscription) Folder() domain.FolderID {
	return s.folder
}

// Events is closed after Unsubscribe.
func (s *Subscription) Events() <-chan domain.SyncEvent {
	return s.events
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.pending = nil
		s.mu.Unlock()

		close(s.done)
		s.bridge.remove(s)
		s.bridge.l.WithField("folder", s.folder).Debug("Unsubscribed")
	})
}

func (s *Subscription) push(ctx context.Context, event domain.SyncEvent) error {
	progress, isProgress := event.(domain.Progress)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}

		if s.pending == nil && len(s.queue) < s.size {
			s.queue = append(s.queue, event)
			s.mu.Unlock()
			signal(s.ready)
			return nil
		}

		if isProgress {
			s.coalesce(progress)
			s.mu.Unlock()
			metrics.ProgressCoalesced.Inc()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-s.space:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return domain.NewError(domain.KindCancelled, "publish", ctx.Err())
		}
	}
}

// coalesce keeps only the newest Progress once the queue is full. It must be
// called with mu held.
func (s *Subscription) coalesce(progress domain.Progress) {
	if s.pending != nil {
		s.pending = &progress
		return
	}

	for i := len(s.queue) - 1; i >= 0; i-- {
		if _, ok := s.queue[i].(domain.Progress); ok {
			copy(s.queue[i:], s.queue[i+1:])
			s.queue[len(s.queue)-1] = progress
			return
		}
	}
	s.pending = &progress
}

func (s *Subscription) next() (domain.SyncEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}

	event := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if s.pending != nil {
		s.queue = append(s.queue, *s.pending)
		s.pending = nil
	}

	signal(s.space)
	return event, true
}

func (s *Subscription) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) pump() {
	defer close(s.events)

	for {
		event, ok := s.next()
		if !ok {
			select {
			case <-s.ready:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Name is the metric label of an event.
func Name(event domain.SyncEvent) string {
	switch event.(type) {
	case domain.Progress:
		return "progress"
	case domain.HeaderBatch:
		return "header_batch"
	case domain.FlagUpdate:
		return "flag_update"
	case domain.MessagesRemoved:
		return "messages_removed"
	case domain.ErrorEvent:
		return "error"
	}
	return "unknown"
}
