// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

// WatchTarget is the folder side of a watch. A sync job implements it so that
// every change reported while watching is applied by the folder's own job.
type WatchTarget interface {
	Folder() FolderID
	// FetchNew caches every message at or above the first uncached UID and
	// returns the UIDs it added, ascending.
	FetchNew(ctx context.Context) ([]uint32, error)
	Remove(ctx context.Context, uids []uint32) error
	UpdateFlags(ctx context.Context, changes []*FlagChange) error
	// Resync reconciles the cache against the complete ascending list of
	// server UIDs.
	Resync(ctx context.Context, serverUids []uint32) error
}

// Watcher waits for changes of the folder selected on session until ctx is
// done. It returns nil when it was stopped between two waits, leaving the
// session usable.
type Watcher interface {
	Watch(ctx context.Context, session MailSession, target WatchTarget) error
}
