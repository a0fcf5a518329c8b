// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "context"

//go:generate mockgen -destination=mocks/events.go -package=mocks . Publisher

// SyncEvent is an immutable notification delivered to subscribers of a folder.
type SyncEvent interface {
	FolderId() FolderID
	syncEvent()
}

type Progress struct {
	Folder FolderID
	Done   int
	Total  int
}

func (e Progress) FolderId() FolderID { return e.Folder }
func (Progress) syncEvent()           {}

func (e Progress) Complete() bool {
	return e.Done == e.Total
}

type HeaderBatch struct {
	Folder  FolderID
	Headers []*MessageHeader
}

func (e HeaderBatch) FolderId() FolderID { return e.Folder }
func (HeaderBatch) syncEvent()           {}

type FlagUpdate struct {
	Folder FolderID
	Uid    uint32
	Flags  []string
}

func (e FlagUpdate) FolderId() FolderID { return e.Folder }
func (FlagUpdate) syncEvent()           {}

type MessagesRemoved struct {
	Folder FolderID
	Uids   []uint32
}

func (e MessagesRemoved) FolderId() FolderID { return e.Folder }
func (MessagesRemoved) syncEvent()           {}

// ErrorEvent is surfaced once a failure is not going to be retried.
// Folder is zero for account level failures such as folder discovery.
type ErrorEvent struct {
	Folder  FolderID
	Account string
	Kind    ErrorKind
	Err     error
}

func (e ErrorEvent) FolderId() FolderID { return e.Folder }
func (ErrorEvent) syncEvent()           {}

type Publisher interface {
	Publish(ctx context.Context, event SyncEvent) error
}
