// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
)

// fakeServer is an in-memory mailbox with a single INBOX.
type fakeServer struct {
	mu sync.Mutex

	caps        domain.Capabilities
	uidValidity uint32
	uidNext     uint32
	modSeq      uint64
	uids        []uint32
	// flags holds an entry for every message in the mailbox
	flags       map[uint32][]string
	changed     map[uint32]uint64

	openErrs    []error
	opens       int
	logouts     int
	fetches     [][]uint32
	failFetchAt int
	idles       int

	// openGate, when set, blocks Open until closed or ctx is done
	openGate chan struct{}
	notices  chan []*domain.Notice
}

func newFakeServer(count int) *fakeServer {
	s := &fakeServer{
		caps:        domain.NewCapabilities("IMAP4rev1", "IDLE", "CONDSTORE"),
		uidValidity: 42,
		uidNext:     1,
		modSeq:      700,
		flags:       map[uint32][]string{},
		changed:     map[uint32]uint64{},
		notices:     make(chan []*domain.Notice),
	}
	for i := 0; i < count; i++ {
		s.deliver()
	}
	return s
}

func (s *fakeServer) add(flags ...string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliver(flags...)
}

// deliver adds one message and returns its UID.
func (s *fakeServer) deliver(flags ...string) uint32 {
	uid := s.uidNext
	s.uidNext++
	s.uids = append(s.uids, uid)
	s.flags[uid] = domain.NormalizeFlags(flags)
	return uid
}

func (s *fakeServer) setFlags(uid uint32, flags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modSeq++
	s.flags[uid] = domain.NormalizeFlags(flags)
	s.changed[uid] = s.modSeq
}

func (s *fakeServer) expunge(uids ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gone := map[uint32]bool{}
	for _, uid := range uids {
		gone[uid] = true
	}
	kept := []uint32{}
	for _, uid := range s.uids {
		if gone[uid] {
			delete(s.flags, uid)
			continue
		}
		kept = append(kept, uid)
	}
	s.uids = kept
}

// reset replaces the mailbox as if it was recreated with a new UIDVALIDITY.
func (s *fakeServer) reset(uidValidity uint32, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uidValidity = uidValidity
	s.uidNext = 1
	s.uids = nil
	s.flags = map[uint32][]string{}
	for i := 0; i < count; i++ {
		s.deliver()
	}
}

func (s *fakeServer) stats() (opens int, fetches int, idles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, len(s.fetches), s.idles
}

func (s *fakeServer) Open(ctx context.Context, account *domain.Account) (domain.MailSession, error) {
	s.mu.Lock()
	s.opens++
	gate := s.openGate
	var err error
	if len(s.openErrs) > 0 {
		err, s.openErrs = s.openErrs[0], s.openErrs[1:]
	}
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, domain.NewError(domain.KindCancelled, "dial", ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	return &fakeSession{server: s}, nil
}

type fakeSession struct {
	server   *fakeServer
	selected bool
}

func (f *fakeSession) Capabilities() domain.Capabilities {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	return f.server.caps
}

func (f *fakeSession) ListFolders(ctx context.Context) ([]*domain.FolderInfo, error) {
	return []*domain.FolderInfo{{Path: "INBOX", Delimiter: "/", Role: domain.RoleInbox}}, nil
}

func (f *fakeSession) Select(ctx context.Context, path string) (*domain.MailboxStatus, error) {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if path != "INBOX" {
		return nil, domain.NewError(domain.KindProtocol, "select", errors.New("NO no such mailbox"))
	}
	f.selected = true
	return &domain.MailboxStatus{
		Path:          path,
		UidValidity:   s.uidValidity,
		UidNext:       s.uidNext,
		Messages:      uint32(len(s.uids)),
		HighestModSeq: s.modSeq,
	}, nil
}

func (f *fakeSession) SearchUids(ctx context.Context, from uint32) ([]uint32, error) {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	uids := []uint32{}
	for _, uid := range s.uids {
		if uid >= from {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func (f *fakeSession) FetchHeaders(ctx context.Context, uids []uint32) ([]*domain.MessageHeader, error) {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches = append(s.fetches, append([]uint32{}, uids...))
	if len(s.fetches) == s.failFetchAt {
		return nil, domain.NewError(domain.KindTransport, "fetch", fmt.Errorf("could not read response: %w", io.EOF))
	}

	headers := []*domain.MessageHeader{}
	for _, uid := range uids {
		if _, ok := s.flags[uid]; !ok {
			continue
		}
		headers = append(headers, &domain.MessageHeader{
			Uid:       uid,
			Subject:   fmt.Sprintf("Message %d", uid),
			From:      "Bob <bob@example.com>",
			MessageId: fmt.Sprintf("%d.%d@example.com", s.uidValidity, uid),
			Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Minute),
			Size:      100,
			Flags:     s.flags[uid],
			BodyRef:   fmt.Sprintf("%d/%d", s.uidValidity, uid),
		})
	}
	// servers answer in mailbox order
	sort.Slice(headers, func(i, j int) bool { return headers[i].Uid < headers[j].Uid })
	return headers, nil
}

func (f *fakeSession) FetchFlags(ctx context.Context, uids []uint32, changedSince uint64) ([]*domain.FlagChange, error) {
	s := f.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(uids) == 0 {
		uids = s.uids
	}
	changes := []*domain.FlagChange{}
	for _, uid := range uids {
		flags, ok := s.flags[uid]
		if !ok {
			continue
		}
		if changedSince > 0 && s.changed[uid] <= changedSince {
			continue
		}
		changes = append(changes, &domain.FlagChange{Uid: uid, Flags: flags, ModSeq: s.changed[uid]})
	}
	return changes, nil
}

func (f *fakeSession) StoreFlags(ctx context.Context, uid uint32, add []string, remove []string) error {
	return errors.New("not implemented")
}

func (f *fakeSession) FetchBody(ctx context.Context, uid uint32) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSession) Idle(ctx context.Context, refresh time.Duration) ([]*domain.Notice, error) {
	f.server.mu.Lock()
	f.server.idles++
	f.server.mu.Unlock()

	select {
	case notices := <-f.server.notices:
		return notices, nil
	case <-ctx.Done():
		return nil, domain.NewError(domain.KindCancelled, "idle", ctx.Err())
	}
}

func (f *fakeSession) Poll(ctx context.Context) ([]*domain.Notice, error) {
	return []*domain.Notice{}, nil
}

func (f *fakeSession) Logout() error {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	f.server.logouts++
	return nil
}

// recorder keeps every published event.
type recorder struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func (r *recorder) Publish(ctx context.Context, event domain.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) all() []domain.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SyncEvent{}, r.events...)
}

func (r *recorder) completions() []domain.Progress {
	done := []domain.Progress{}
	for _, e := range r.all() {
		if p, ok := e.(domain.Progress); ok && p.Complete() {
			done = append(done, p)
		}
	}
	return done
}

func (r *recorder) removed() [][]uint32 {
	removed := [][]uint32{}
	for _, e := range r.all() {
		if m, ok := e.(domain.MessagesRemoved); ok {
			removed = append(removed, m.Uids)
		}
	}
	return removed
}

func (r *recorder) errorEvents() []domain.ErrorEvent {
	errs := []domain.ErrorEvent{}
	for _, e := range r.all() {
		if m, ok := e.(domain.ErrorEvent); ok {
			errs = append(errs, m)
		}
	}
	return errs
}

func (r *recorder) count(match func(domain.SyncEvent) bool) int {
	n := 0
	for _, e := range r.all() {
		if match(e) {
			n++
		}
	}
	return n
}
