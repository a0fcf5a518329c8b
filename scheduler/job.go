// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/metrics"

	"github.com/sirupsen/logrus"
)

// job synchronizes one folder. It is the only writer of the folder's cached
// messages and cursor for as long as it lives.
type job struct {
	s      *Scheduler
	folder domain.FolderID

	ctx    context.Context
	cancel context.CancelFunc

	// guarded by s.mu
	state     State
	waiters   []chan error
	relist    bool
	stopWatch context.CancelFunc

	wake chan struct{}

	session domain.MailSession
	attempt int
	purged  bool

	l *logrus.Entry
}

func (j *job) run() {
	var err error
	defer func() { j.finish(err) }()

	for {
		err = j.synchronize()
		if err == nil {
			j.setState(StateWatching)
			err = j.watch()
			if err == nil {
				continue
			}
		}

		err = j.recover(err)
		if err != nil {
			return
		}
	}
}

// recover decides how the job continues after err. It returns nil when the
// job should list again and the error to surface when the job ends.
func (j *job) recover(err error) error {
	if j.ctx.Err() != nil {
		return domain.NewError(domain.KindCancelled, "sync", j.ctx.Err())
	}

	kind := domain.KindOf(err)
	switch {
	case kind == domain.KindCancelled:
		// a foreground request stopped the watch in the middle of a command
		j.dropSession()
		return nil

	case domain.Retryable(kind):
		j.dropSession()
		j.attempt++
		if j.attempt > j.s.configuration.MaxRetries {
			j.l.WithFields(logrus.Fields{"error": err, "attempts": j.attempt}).Error("Giving up after retries")
			return j.surface(kind, err)
		}
		metrics.Retries.WithLabelValues(kind.String()).Inc()
		return j.backoff(err)

	case kind == domain.KindStore && !j.purged:
		j.purged = true
		j.l.WithField("error", err).Warn("Cache is inconsistent, rebuilding folder")
		if err := j.purge(j.ctx); err != nil {
			return j.surface(domain.KindOf(err), err)
		}
		return nil
	}

	if kind == domain.KindProtocol || kind == domain.KindAuthExpired {
		j.dropSession()
	}
	return j.surface(kind, err)
}

func (j *job) backoff(cause error) error {
	delay := j.s.backoff.delay(j.attempt)
	j.l.WithFields(logrus.Fields{"error": cause, "attempt": j.attempt, "delay": delay}).Warn("Sync failed, retrying")

	select {
	case <-j.wake:
	default:
	}
	j.setState(StateBackoff)

	select {
	case <-j.s.after(delay):
	case <-j.wake:
		j.l.Debug("Retrying early on foreground request")
	case <-j.ctx.Done():
		return domain.NewError(domain.KindCancelled, "backoff", j.ctx.Err())
	}
	return nil
}

func (j *job) surface(kind domain.ErrorKind, err error) error {
	if kind == domain.KindCancelled {
		return err
	}

	j.l.WithFields(logrus.Fields{"error": err, "kind": kind}).Error("Sync failed")
	perr := j.publish(j.ctx, domain.ErrorEvent{
		Folder:  j.folder,
		Account: j.s.account.Id,
		Kind:    kind,
		Err:     err,
	})
	if perr != nil {
		j.l.WithField("error", perr).Warn("Could not publish error event")
	}
	return err
}

func (j *job) finish(err error) {
	j.dropSession()

	// only a cancel from outside turns the result into Cancelled
	if cerr := j.ctx.Err(); cerr != nil && domain.KindOf(err) != domain.KindCancelled {
		err = domain.NewError(domain.KindCancelled, "sync", cerr)
	}
	j.cancel()

	j.s.mu.Lock()
	j.state = StateIdle
	waiters := j.waiters
	j.waiters = nil
	if j.s.jobs[j.folder] == j {
		delete(j.s.jobs, j.folder)
	}
	j.s.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}

	result := "failed"
	if domain.KindOf(err) == domain.KindCancelled {
		result = "cancelled"
	}
	metrics.SyncJobs.WithLabelValues(result).Inc()
	metrics.StateTransitions.WithLabelValues(StateIdle.String()).Inc()
	metrics.ActiveJobs.Dec()
	j.l.WithField("result", result).Debug("Sync job ended")

	j.s.wg.Done()
}

func (j *job) setState(state State) {
	j.s.mu.Lock()
	j.state = state
	var waiters []chan error
	if state == StateWatching {
		waiters = j.waiters
		j.waiters = nil
		j.attempt = 0
	}
	j.s.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}

	if state == StateWatching {
		metrics.SyncJobs.WithLabelValues("watching").Inc()
	}
	metrics.StateTransitions.WithLabelValues(state.String()).Inc()
	j.l.WithField("state", state).Debug("State changed")
}

func (j *job) dropSession() {
	if j.session == nil {
		return
	}
	if err := j.session.Logout(); err != nil {
		j.l.WithField("error", err).Debug("Could not logout")
	}
	j.session = nil
}

func (j *job) publish(ctx context.Context, event domain.SyncEvent) error {
	return j.s.publisher.Publish(ctx, event)
}

func (j *job) synchronize() error {
	j.setState(StateListing)

	if j.session == nil {
		session, err := j.s.sessions.Open(j.ctx, j.s.account)
		if err != nil {
			return fmt.Errorf("could not open session: %w", err)
		}
		j.session = session
	}

	folder, err := j.s.persistence.GetFolder(j.ctx, j.folder)
	if err != nil {
		return fmt.Errorf("could not load folder: %w", err)
	}

	status, err := j.session.Select(j.ctx, folder.Path)
	if err != nil {
		return fmt.Errorf("could not select folder %s: %w", folder.Path, err)
	}

	if folder.UidValidity != 0 && folder.UidValidity != status.UidValidity {
		j.l.WithFields(logrus.Fields{"cached": folder.UidValidity, "server": status.UidValidity}).Warn("UIDVALIDITY changed, dropping cached messages")
		if err := j.purge(j.ctx); err != nil {
			return err
		}
		if folder, err = j.s.persistence.GetFolder(j.ctx, j.folder); err != nil {
			return fmt.Errorf("could not reload folder: %w", err)
		}
	}
	if folder.UidValidity != status.UidValidity {
		if err := j.s.persistence.SetUidValidity(j.ctx, j.folder, status.UidValidity); err != nil {
			return fmt.Errorf("could not save uidvalidity: %w", err)
		}
		folder.UidValidity = status.UidValidity
	}

	if err := j.s.persistence.CheckFolder(j.ctx, j.folder); err != nil {
		return err
	}

	serverUids, err := j.session.SearchUids(j.ctx, 1)
	if err != nil {
		return fmt.Errorf("could not list uids: %w", err)
	}
	fresh := folder.UidNext == 0

	j.setState(StateFetchingHeaders)
	if err := j.fetchHeaders(folder, status, serverUids); err != nil {
		return err
	}

	j.setState(StateReconcilingFlags)
	return j.reconcile(folder, status, serverUids, fresh)
}

func (j *job) fetchHeaders(folder *domain.Folder, status *domain.MailboxStatus, serverUids []uint32) error {
	target := status.UidNext
	if target == 0 {
		target = folder.UidNext
		if len(serverUids) > 0 && serverUids[len(serverUids)-1] >= target {
			target = serverUids[len(serverUids)-1] + 1
		}
	}

	cursor, err := j.s.persistence.GetFolderCursor(j.ctx, j.folder)
	if err != nil {
		return err
	}

	low := folder.UidNext
	for {
		windowTarget := target
		if cursor != nil {
			windowTarget = cursor.Target
		}

		w := planWindow(serverUids, low, cursor, windowTarget, j.s.configuration.BatchSize)
		if err := j.fetchWindow(j.ctx, w); err != nil {
			return err
		}
		if cursor != nil || windowTarget != low {
			if err := j.s.persistence.CompleteWindow(j.ctx, j.folder, windowTarget); err != nil {
				return fmt.Errorf("could not complete window: %w", err)
			}
		}

		if windowTarget >= target {
			return nil
		}
		low, cursor = windowTarget, nil
	}
}

// fetchWindow fetches the batches of w newest first, committing each batch
// together with the cursor boundary it reached.
func (j *job) fetchWindow(ctx context.Context, w *window) error {
	batchSize := j.s.configuration.BatchSize
	if len(w.batches) == 0 {
		return j.publish(ctx, domain.Progress{Folder: j.folder, Done: w.done, Total: w.total})
	}

	first, batches := w.firstBatch(batchSize), w.batchCount(batchSize)
	if w.done > 0 {
		j.l.WithFields(logrus.Fields{"batch": first, "batches": batches}).Info("Resuming header fetch")
	} else {
		j.l.WithFields(logrus.Fields{"messages": w.total, "batches": batches}).Info("Fetching headers")
	}

	for i, uids := range w.batches {
		start := time.Now()
		headers, err := j.session.FetchHeaders(ctx, uids)
		if err != nil {
			return fmt.Errorf("could not fetch header batch %d: %w", first+i, err)
		}
		headers = sortedNewestFirst(headers)

		cursor := &domain.SyncCursor{Folder: j.folder, Boundary: lowest(uids), Target: w.target}
		if _, err := j.s.persistence.CommitBatch(ctx, j.folder, headers, cursor); err != nil {
			return fmt.Errorf("could not commit header batch %d: %w", first+i, err)
		}
		w.done += len(uids)

		metrics.HeadersFetched.Add(float64(len(headers)))
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		j.l.WithFields(logrus.Fields{"batch": first + i, "batches": batches, "headers": len(headers), "duration": time.Since(start)}).Debug("Committed batch")

		if len(headers) > 0 {
			if err := j.publish(ctx, domain.HeaderBatch{Folder: j.folder, Headers: headers}); err != nil {
				return err
			}
		}
		if err := j.publish(ctx, domain.Progress{Folder: j.folder, Done: w.done, Total: w.total}); err != nil {
			return err
		}
	}
	return nil
}

func (j *job) reconcile(folder *domain.Folder, status *domain.MailboxStatus, serverUids []uint32, fresh bool) error {
	cached, err := j.s.persistence.ListUids(j.ctx, j.folder)
	if err != nil {
		return err
	}

	server := uidSet(serverUids)
	vanished, remaining := []uint32{}, []uint32{}
	for _, uid := range cached {
		if server[uid] {
			remaining = append(remaining, uid)
		} else {
			vanished = append(vanished, uid)
		}
	}
	if err := j.Remove(j.ctx, vanished); err != nil {
		return err
	}

	if !fresh && len(remaining) > 0 {
		if err := j.reconcileFlags(folder, status, remaining); err != nil {
			return err
		}
	}

	if status.HighestModSeq > 0 && status.HighestModSeq != folder.HighestModSeq {
		if err := j.s.persistence.SetHighestModSeq(j.ctx, j.folder, status.HighestModSeq); err != nil {
			return fmt.Errorf("could not save highest modseq: %w", err)
		}
	}
	return nil
}

func (j *job) reconcileFlags(folder *domain.Folder, status *domain.MailboxStatus, remaining []uint32) error {
	var uids []uint32
	var changedSince uint64
	if j.session.Capabilities().CondStore() && status.HighestModSeq > 0 && folder.HighestModSeq > 0 {
		if status.HighestModSeq == folder.HighestModSeq {
			return nil
		}
		changedSince = folder.HighestModSeq
	} else {
		uids = remaining
		if window := j.s.configuration.FlagWindow; window > 0 && len(uids) > window {
			uids = uids[len(uids)-window:]
		}
	}

	changes, err := j.session.FetchFlags(j.ctx, uids, changedSince)
	if err != nil {
		return fmt.Errorf("could not fetch flags: %w", err)
	}
	return j.UpdateFlags(j.ctx, changes)
}

func (j *job) purge(ctx context.Context) error {
	removed, err := j.s.persistence.PurgeFolder(ctx, j.folder)
	if err != nil {
		return fmt.Errorf("could not purge folder: %w", err)
	}
	if len(removed) == 0 {
		return nil
	}
	return j.publish(ctx, domain.MessagesRemoved{Folder: j.folder, Uids: removed})
}

// watch hands the session to the watcher until it fails or a foreground
// request stops it. A nil return means list again.
func (j *job) watch() error {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()

	j.s.mu.Lock()
	relist := j.relist
	j.relist = false
	j.stopWatch = cancel
	j.s.mu.Unlock()

	defer func() {
		j.s.mu.Lock()
		j.stopWatch = nil
		j.s.mu.Unlock()
	}()

	if relist {
		return nil
	}

	err := j.s.watcher.Watch(ctx, j.session, j)
	if j.ctx.Err() != nil {
		return domain.NewError(domain.KindCancelled, "watch", j.ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("could not watch: %w", err)
	}
	return nil
}

func (j *job) Folder() domain.FolderID {
	return j.folder
}

func (j *job) FetchNew(ctx context.Context) ([]uint32, error) {
	folder, err := j.s.persistence.GetFolder(ctx, j.folder)
	if err != nil {
		return nil, err
	}

	from := folder.UidNext
	if from == 0 {
		from = 1
	}
	uids, err := j.session.SearchUids(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("could not search new uids: %w", err)
	}
	if len(uids) == 0 {
		return uids, nil
	}

	target := uids[len(uids)-1] + 1
	w := planWindow(uids, folder.UidNext, nil, target, j.s.configuration.BatchSize)
	if err := j.fetchWindow(ctx, w); err != nil {
		return nil, err
	}
	if err := j.s.persistence.CompleteWindow(ctx, j.folder, target); err != nil {
		return nil, fmt.Errorf("could not complete window: %w", err)
	}

	j.l.WithField("messages", len(uids)).Debug("Fetched new messages")
	return uids, nil
}

func (j *job) Remove(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	removed, err := j.s.persistence.RemoveMessages(ctx, j.folder, uids)
	if err != nil {
		return fmt.Errorf("could not remove messages: %w", err)
	}
	if len(removed) == 0 {
		return nil
	}
	return j.publish(ctx, domain.MessagesRemoved{Folder: j.folder, Uids: removed})
}

func (j *job) UpdateFlags(ctx context.Context, changes []*domain.FlagChange) error {
	for _, c := range changes {
		changed, err := j.s.persistence.SetFlags(ctx, j.folder, c.Uid, c.Flags)
		if err != nil {
			return fmt.Errorf("could not update flags of %d: %w", c.Uid, err)
		}
		if !changed {
			continue
		}
		if err := j.publish(ctx, domain.FlagUpdate{Folder: j.folder, Uid: c.Uid, Flags: c.Flags}); err != nil {
			return err
		}
	}
	return nil
}

func (j *job) Resync(ctx context.Context, serverUids []uint32) error {
	cached, err := j.s.persistence.ListUids(ctx, j.folder)
	if err != nil {
		return err
	}

	server := uidSet(serverUids)
	vanished := []uint32{}
	for _, uid := range cached {
		if !server[uid] {
			vanished = append(vanished, uid)
		}
	}
	if err := j.Remove(ctx, vanished); err != nil {
		return err
	}

	_, err = j.FetchNew(ctx)
	return err
}
