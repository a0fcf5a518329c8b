// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"strings"
	"time"
)

//go:generate mockgen -destination=mocks/imap.go -package=mocks . MailSession,SessionFactory

// Capabilities is the upper-cased CAPABILITY set announced by a server.
type Capabilities map[string]bool

func NewCapabilities(caps ...string) Capabilities {
	c := Capabilities{}
	for _, cap := range caps {
		c[strings.ToUpper(cap)] = true
	}
	return c
}

func (c Capabilities) Has(cap string) bool {
	return c[strings.ToUpper(cap)]
}

func (c Capabilities) Idle() bool {
	return c.Has("IDLE")
}

func (c Capabilities) CondStore() bool {
	return c.Has("CONDSTORE") || c.Has("QRESYNC")
}

func (c Capabilities) SASLIR() bool {
	return c.Has("SASL-IR")
}

func (c Capabilities) CanAuth(mechanism Mechanism) bool {
	return c.Has("AUTH=" + string(mechanism))
}

type NoticeKind int

const (
	NoticeExists = NoticeKind(iota + 1)
	NoticeExpunge
	NoticeFlags
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeExists:
		return "EXISTS"
	case NoticeExpunge:
		return "EXPUNGE"
	case NoticeFlags:
		return "FETCH"
	}
	return "UNKNOWN"
}

// Notice is an unsolicited mailbox change reported while waiting. SeqNum is
// the message sequence number (the new message count for EXISTS); Uid is only
// set when the server included it in a FETCH notice.
type Notice struct {
	Kind   NoticeKind
	SeqNum uint32
	Uid    uint32
	Flags  []string
	ModSeq uint64
}

// MailSession is an authenticated connection to one account. It selects at
// most one mailbox at a time and must only be used by one goroutine.
type MailSession interface {
	Capabilities() Capabilities
	ListFolders(ctx context.Context) ([]*FolderInfo, error)
	Select(ctx context.Context, path string) (*MailboxStatus, error)
	// SearchUids returns the ascending UIDs >= from in the selected mailbox.
	SearchUids(ctx context.Context, from uint32) ([]uint32, error)
	FetchHeaders(ctx context.Context, uids []uint32) ([]*MessageHeader, error)
	// FetchFlags returns current flags for uids, or for every message changed
	// since changedSince when that is non-zero and the server supports it.
	FetchFlags(ctx context.Context, uids []uint32, changedSince uint64) ([]*FlagChange, error)
	StoreFlags(ctx context.Context, uid uint32, add []string, remove []string) error
	FetchBody(ctx context.Context, uid uint32) ([]byte, error)
	// Idle blocks until the server reports changes, refresh elapses or ctx is
	// done, and returns the collected notices.
	Idle(ctx context.Context, refresh time.Duration) ([]*Notice, error)
	Poll(ctx context.Context) ([]*Notice, error)
	Logout() error
}

type SessionFactory interface {
	Open(ctx context.Context, account *Account) (MailSession, error)
}
