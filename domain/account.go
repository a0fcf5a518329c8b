// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"sort"
	"strings"
	"time"
)

type FolderID int64

type Mechanism string

const (
	MechanismAuto        = Mechanism("")
	MechanismXOAuth2     = Mechanism("XOAUTH2")
	MechanismOAuthBearer = Mechanism("OAUTHBEARER")
)

// Account is a remote mailbox. CredentialRef is an opaque handle understood
// only by the CredentialProvider.
type Account struct {
	Id            string
	Email         string
	ImapHost      string
	Mechanism     Mechanism
	CredentialRef string
}

type FolderRole string

const (
	RoleOther   = FolderRole("")
	RoleInbox   = FolderRole("inbox")
	RoleSent    = FolderRole("sent")
	RoleDrafts  = FolderRole("drafts")
	RoleTrash   = FolderRole("trash")
	RoleSpam    = FolderRole("spam")
	RoleArchive = FolderRole("archive")
)

// FolderInfo is one selectable mailbox as reported by LIST.
type FolderInfo struct {
	Path      string
	Delimiter string
	Role      FolderRole
}

type Folder struct {
	Id            FolderID
	AccountId     string
	Path          string
	Delimiter     string
	Role          FolderRole
	UidValidity   uint32
	UidNext       uint32
	HighestModSeq uint64
	MessageCount  int
	UnreadCount   int
}

// MailboxStatus is the server side view of a folder right after SELECT.
type MailboxStatus struct {
	Path          string
	UidValidity   uint32
	UidNext       uint32
	Messages      uint32
	HighestModSeq uint64
}

type MessageHeader struct {
	Uid       uint32
	Subject   string
	From      string
	MessageId string
	Date      time.Time
	Size      uint32
	Flags     []string
	ModSeq    uint64
	BodyRef   string
}

func (h *MessageHeader) Seen() bool {
	return HasFlag(h.Flags, SeenFlag)
}

// SyncCursor marks the progress of one header fetch window [.., Target).
// Every server UID in [Boundary, Target) is cached.
type SyncCursor struct {
	Folder   FolderID
	Boundary uint32
	Target   uint32
}

type FlagChange struct {
	Uid    uint32
	Flags  []string
	ModSeq uint64
}

// Range selects a page of headers ordered newest first.
type Range struct {
	Offset int
	Limit  int
}

type SearchResult struct {
	Folder FolderID
	Header *MessageHeader
}

const (
	SeenFlag     = `\Seen`
	AnsweredFlag = `\Answered`
	FlaggedFlag  = `\Flagged`
	DeletedFlag  = `\Deleted`
	DraftFlag    = `\Draft`
	RecentFlag   = `\Recent`
)

// NormalizeFlags returns a sorted, de-duplicated copy of flags without the
// session-scoped \Recent flag.
func NormalizeFlags(flags []string) []string {
	seen := map[string]bool{}
	normalized := []string{}
	for _, f := range flags {
		if strings.EqualFold(f, RecentFlag) || seen[f] {
			continue
		}
		seen[f] = true
		normalized = append(normalized, f)
	}
	sort.Strings(normalized)
	return normalized
}

func HasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
