// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

// Persistence is the durable mirror. Every method touching one folder's
// messages or cursor is only called by that folder's active sync job.
type Persistence interface {
	Close() error

	SaveAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	Accounts(ctx context.Context) ([]*Account, error)
	DeleteAccount(ctx context.Context, id string) error
	ClearAccountCache(ctx context.Context, id string) error

	// SaveFolders upserts the listed folders and drops cached folders the
	// server no longer lists.
	SaveFolders(ctx context.Context, accountId string, folders []*FolderInfo) ([]*Folder, error)
	Folders(ctx context.Context, accountId string) ([]*Folder, error)
	GetFolder(ctx context.Context, id FolderID) (*Folder, error)
	FolderByPath(ctx context.Context, accountId string, path string) (*Folder, error)
	SetUidValidity(ctx context.Context, id FolderID, uidValidity uint32) error
	SetHighestModSeq(ctx context.Context, id FolderID, modSeq uint64) error
	CheckFolder(ctx context.Context, id FolderID) error

	UpsertHeaders(ctx context.Context, id FolderID, headers []*MessageHeader) (int, error)
	// CommitBatch upserts headers and advances the cursor in one transaction.
	CommitBatch(ctx context.Context, id FolderID, headers []*MessageHeader, cursor *SyncCursor) (int, error)
	// CompleteWindow records uidNext as fetched and clears the cursor.
	CompleteWindow(ctx context.Context, id FolderID, uidNext uint32) error
	GetHeaderRange(ctx context.Context, id FolderID, r Range) ([]*MessageHeader, error)
	GetHeader(ctx context.Context, id FolderID, uid uint32) (*MessageHeader, error)
	ListUids(ctx context.Context, id FolderID) ([]uint32, error)
	SetFlags(ctx context.Context, id FolderID, uid uint32, flags []string) (bool, error)
	RemoveMessages(ctx context.Context, id FolderID, uids []uint32) ([]uint32, error)
	PurgeFolder(ctx context.Context, id FolderID) ([]uint32, error)

	GetFolderCursor(ctx context.Context, id FolderID) (*SyncCursor, error)
	SetFolderCursor(ctx context.Context, cursor *SyncCursor) error

	SaveBody(ctx context.Context, id FolderID, uid uint32, body []byte) error
	GetBody(ctx context.Context, id FolderID, uid uint32) ([]byte, error)

	Search(ctx context.Context, accountId string, query string, limit int) ([]*SearchResult, error)
}
