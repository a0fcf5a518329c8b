// SPDX-License-Identifier: GPL-3.0-or-later
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/domain/mocks"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitLogging("error")
	os.Exit(m.Run())
}

type fakeTarget struct {
	newUids  [][]uint32
	removed  [][]uint32
	changes  []*domain.FlagChange
	resynced [][]uint32
	err      error
}

func (f *fakeTarget) Folder() domain.FolderID { return 7 }

func (f *fakeTarget) FetchNew(ctx context.Context) ([]uint32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.newUids) == 0 {
		return []uint32{}, nil
	}
	uids := f.newUids[0]
	f.newUids = f.newUids[1:]
	return uids, nil
}

func (f *fakeTarget) Remove(ctx context.Context, uids []uint32) error {
	if len(uids) > 0 {
		f.removed = append(f.removed, uids)
	}
	return nil
}

func (f *fakeTarget) UpdateFlags(ctx context.Context, changes []*domain.FlagChange) error {
	f.changes = append(f.changes, changes...)
	return nil
}

func (f *fakeTarget) Resync(ctx context.Context, serverUids []uint32) error {
	f.resynced = append(f.resynced, serverUids)
	return nil
}

func newTestWatcher(t *testing.T) *Watcher {
	w, err := NewWatcher(IdleRefresh(time.Minute), PollInterval(time.Second))
	require.NoError(t, err)
	return w
}

// idleOnce answers the first IDLE with notices and blocks every later one
// until the watch is cancelled.
func idleOnce(session *mocks.MockMailSession, cancel context.CancelFunc, rounds ...[]*domain.Notice) {
	calls := 0
	session.EXPECT().Idle(gomock.Any(), time.Minute).DoAndReturn(func(ctx context.Context, refresh time.Duration) ([]*domain.Notice, error) {
		if calls < len(rounds) {
			calls++
			return rounds[calls-1], nil
		}
		cancel()
		<-ctx.Done()
		return nil, domain.NewError(domain.KindCancelled, "idle", ctx.Err())
	}).MinTimes(1)
}

func TestWatch_NewMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockMailSession(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{3, 5, 9}, nil)
	session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
	idleOnce(session, cancel, []*domain.Notice{{Kind: domain.NoticeExists, SeqNum: 5}})

	target := &fakeTarget{newUids: [][]uint32{{10, 11}}}
	err := newTestWatcher(t).Watch(ctx, session, target)

	assert.NoError(t, err)
	assert.Empty(t, target.newUids)
	assert.Empty(t, target.resynced)
	assert.Empty(t, target.removed)
}

func TestWatch_ExpungeAndFlags(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockMailSession(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{3, 5, 9, 12}, nil)
	session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
	idleOnce(session, cancel,
		[]*domain.Notice{
			{Kind: domain.NoticeExpunge, SeqNum: 2},
			{Kind: domain.NoticeFlags, SeqNum: 2, Flags: []string{domain.SeenFlag, domain.RecentFlag}},
			{Kind: domain.NoticeExpunge, SeqNum: 3},
			{Kind: domain.NoticeExists, SeqNum: 2},
		},
		[]*domain.Notice{
			{Kind: domain.NoticeFlags, SeqNum: 1, Uid: 3, Flags: []string{domain.FlaggedFlag}, ModSeq: 900},
		},
	)

	target := &fakeTarget{}
	err := newTestWatcher(t).Watch(ctx, session, target)

	assert.NoError(t, err)
	assert.Equal(t, [][]uint32{{5, 12}}, target.removed)
	assert.Equal(t, []*domain.FlagChange{
		{Uid: 9, Flags: []string{domain.SeenFlag}},
		{Uid: 3, Flags: []string{domain.FlaggedFlag}, ModSeq: 900},
	}, target.changes)
	assert.Empty(t, target.resynced)
}

func TestWatch_Inconsistent(t *testing.T) {
	tests := []struct {
		name    string
		notices []*domain.Notice
		newUids [][]uint32
	}{
		{"unknownexpunge", []*domain.Notice{{Kind: domain.NoticeExpunge, SeqNum: 4}}, nil},
		{"unknownfetch", []*domain.Notice{{Kind: domain.NoticeFlags, SeqNum: 8, Flags: []string{}}}, nil},
		{"existsshrunk", []*domain.Notice{{Kind: domain.NoticeExists, SeqNum: 1}}, nil},
		{"existsmismatch", []*domain.Notice{{Kind: domain.NoticeExists, SeqNum: 6}}, [][]uint32{{20}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			session := mocks.NewMockMailSession(ctrl)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gomock.InOrder(
				session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{3, 5, 9}, nil),
				session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{3, 9, 20, 21}, nil),
			)
			session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
			idleOnce(session, cancel, tc.notices)

			target := &fakeTarget{newUids: tc.newUids}
			err := newTestWatcher(t).Watch(ctx, session, target)

			assert.NoError(t, err)
			assert.Equal(t, [][]uint32{{3, 9, 20, 21}}, target.resynced)
		})
	}
}

func TestWatch_Polling(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockMailSession(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{1}, nil)
	session.EXPECT().Capabilities().Return(domain.NewCapabilities("IMAP4rev1"))
	gomock.InOrder(
		session.EXPECT().Poll(gomock.Any()).Return([]*domain.Notice{}, nil),
		session.EXPECT().Poll(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]*domain.Notice, error) {
			cancel()
			return []*domain.Notice{{Kind: domain.NoticeExpunge, SeqNum: 1}}, nil
		}),
	)

	w := newTestWatcher(t)
	waits := []time.Duration{}
	w.after = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	target := &fakeTarget{}
	err := w.Watch(ctx, session, target)

	assert.NoError(t, err)
	assert.Equal(t, [][]uint32{{1}}, target.removed)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, waits)
}

func TestWatch_IdleRefused(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockMailSession(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{}, nil)
	session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
	session.EXPECT().Idle(gomock.Any(), time.Minute).Return(nil, domain.NewError(domain.KindProtocol, "idle", domain.ErrIdleUnsupported))
	session.EXPECT().Poll(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]*domain.Notice, error) {
		cancel()
		return []*domain.Notice{}, nil
	})

	w := newTestWatcher(t)
	w.after = func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	assert.NoError(t, w.Watch(ctx, session, &fakeTarget{}))
}

func TestWatch_Errors(t *testing.T) {
	bye := domain.NewError(domain.KindTransport, "idle", errors.New("server closed connection: shutting down"))

	t.Run("idle", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		session := mocks.NewMockMailSession(ctrl)

		session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{1}, nil)
		session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
		session.EXPECT().Idle(gomock.Any(), time.Minute).Return(nil, bye)

		err := newTestWatcher(t).Watch(context.Background(), session, &fakeTarget{})
		assert.ErrorIs(t, err, bye)
		assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	})

	t.Run("snapshot", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		session := mocks.NewMockMailSession(ctrl)

		session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return(nil, bye)

		err := newTestWatcher(t).Watch(context.Background(), session, &fakeTarget{})
		assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	})

	t.Run("target", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		session := mocks.NewMockMailSession(ctrl)

		session.EXPECT().SearchUids(gomock.Any(), uint32(1)).Return([]uint32{1}, nil)
		session.EXPECT().Capabilities().Return(domain.NewCapabilities("IDLE"))
		session.EXPECT().Idle(gomock.Any(), time.Minute).Return([]*domain.Notice{{Kind: domain.NoticeExists, SeqNum: 2}}, nil)

		storeErr := domain.NewError(domain.KindStore, "commit batch", errors.New("disk full"))
		err := newTestWatcher(t).Watch(context.Background(), session, &fakeTarget{err: storeErr})
		assert.ErrorIs(t, err, storeErr)
	})
}

func TestNewWatcher(t *testing.T) {
	_, err := NewWatcher(IdleRefresh(30 * time.Minute))
	assert.Equal(t, fmt.Errorf("error applying configuration: %w", fmt.Errorf("IdleRefresh must be between 0 and 29m0s, got 30m0s")), err)

	_, err = NewWatcher(PollInterval(0))
	assert.Error(t, err)

	w, err := NewWatcher()
	assert.NoError(t, err)
	assert.Equal(t, &configuration{IdleRefresh: 28 * time.Minute, PollInterval: 2 * time.Minute}, w.configuration)
}

func TestSeqMap(t *testing.T) {
	m := newSeqMap([]uint32{3, 5, 9})

	uid, ok := m.uid(2)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), uid)

	_, ok = m.uid(0)
	assert.False(t, ok)
	_, ok = m.uid(4)
	assert.False(t, ok)

	uid, ok = m.expunge(1)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), uid)
	uid, _ = m.uid(1)
	assert.Equal(t, uint32(5), uid)

	m.add([]uint32{7, 10, 11})
	assert.Equal(t, []uint32{5, 9, 10, 11}, m.uids)
	assert.Equal(t, 4, m.len())
}
