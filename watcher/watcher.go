// SPDX-License-Identifier: GPL-3.0-or-later
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"
	"github.com/CrawX/go-imap-mirror/metrics"

	"github.com/sirupsen/logrus"
)

// Watcher turns mailbox change notices into incremental updates of the
// watched folder. Notice counts are never trusted: new messages are found by
// UID search and removals through the sequence number map.
type Watcher struct {
	configuration *configuration
	after         func(time.Duration) <-chan time.Time

	l *logrus.Logger
}

func NewWatcher(configFunc ...ConfigFunc) (*Watcher, error) {
	config := defaultConfiguration()
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &Watcher{
		configuration: config,
		after:         time.After,
		l:             log.Logger(log.LOG_WATCHER),
	}, nil
}

func (w *Watcher) Watch(ctx context.Context, session domain.MailSession, target domain.WatchTarget) error {
	l := w.l.WithField("folder", target.Folder())

	uids, err := session.SearchUids(ctx, 1)
	if err != nil {
		return fmt.Errorf("could not map sequence numbers: %w", err)
	}
	seqs := newSeqMap(uids)

	idle := session.Capabilities().Idle()
	if !idle {
		l.WithField("interval", w.configuration.PollInterval).Info("Server cannot IDLE, polling")
	}

	for {
		var notices []*domain.Notice
		if idle {
			notices, err = session.Idle(ctx, w.configuration.IdleRefresh)
			if errors.Is(err, domain.ErrIdleUnsupported) {
				l.WithFields(logrus.Fields{"error": err, "interval": w.configuration.PollInterval}).Warn("IDLE refused, polling")
				idle = false
				continue
			}
			if ctx.Err() != nil && (err == nil || domain.KindOf(err) == domain.KindCancelled) {
				// IDLE was completed with DONE, the session is usable
				return nil
			}
		} else {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-w.after(w.configuration.PollInterval):
			}
			notices, err = session.Poll(ctx)
		}
		if err != nil {
			return fmt.Errorf("could not wait for changes: %w", err)
		}
		if len(notices) == 0 {
			continue
		}

		for _, n := range notices {
			metrics.PushNotices.WithLabelValues(n.Kind.String()).Inc()
		}
		l.WithField("notices", len(notices)).Debug("Mailbox changed")

		seqs, err = w.apply(ctx, session, target, seqs, notices)
		if err != nil {
			return err
		}
	}
}

// apply updates the cache for one round of notices and returns the sequence
// map matching the mailbox afterwards.
func (w *Watcher) apply(ctx context.Context, session domain.MailSession, target domain.WatchTarget, seqs *seqMap, notices []*domain.Notice) (*seqMap, error) {
	removed := []uint32{}
	changes := []*domain.FlagChange{}
	exists := -1
	consistent := true

	for _, n := range notices {
		switch n.Kind {
		case domain.NoticeExpunge:
			uid, ok := seqs.expunge(n.SeqNum)
			if !ok {
				consistent = false
				continue
			}
			removed = append(removed, uid)
		case domain.NoticeExists:
			exists = int(n.SeqNum)
		case domain.NoticeFlags:
			uid := n.Uid
			if uid == 0 {
				var ok bool
				uid, ok = seqs.uid(n.SeqNum)
				if !ok {
					// a message announced by EXISTS is fetched with its flags
					if int(n.SeqNum) > seqs.len() && int(n.SeqNum) <= exists {
						continue
					}
					consistent = false
					continue
				}
			}
			changes = append(changes, &domain.FlagChange{Uid: uid, Flags: domain.NormalizeFlags(n.Flags), ModSeq: n.ModSeq})
		}
	}

	if err := target.Remove(ctx, removed); err != nil {
		return nil, fmt.Errorf("could not remove expunged messages: %w", err)
	}
	if len(changes) > 0 {
		if err := target.UpdateFlags(ctx, changes); err != nil {
			return nil, fmt.Errorf("could not apply flag changes: %w", err)
		}
	}

	if exists > seqs.len() {
		added, err := target.FetchNew(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not fetch new messages: %w", err)
		}
		seqs.add(added)
	}
	if exists >= 0 && exists != seqs.len() {
		consistent = false
	}

	if consistent {
		return seqs, nil
	}

	w.l.WithFields(logrus.Fields{"folder": target.Folder(), "exists": exists, "known": seqs.len()}).Info("Notices do not match known messages, resynchronizing")
	uids, err := session.SearchUids(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("could not map sequence numbers: %w", err)
	}
	if err := target.Resync(ctx, uids); err != nil {
		return nil, fmt.Errorf("could not resync: %w", err)
	}
	return newSeqMap(uids), nil
}
