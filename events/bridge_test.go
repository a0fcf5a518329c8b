// SPDX-License-Identifier: GPL-3.0-or-later
package events

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/CrawX/go-imap-mirror/domain"
	"github.com/CrawX/go-imap-mirror/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitLogging("error")
	os.Exit(m.Run())
}

var ctx = context.Background()

func batch(folder domain.FolderID, uids ...uint32) domain.HeaderBatch {
	headers := []*domain.MessageHeader{}
	for _, uid := range uids {
		headers = append(headers, &domain.MessageHeader{Uid: uid})
	}
	return domain.HeaderBatch{Folder: folder, Headers: headers}
}

func receive(t *testing.T, s *Subscription) domain.SyncEvent {
	t.Helper()
	select {
	case event, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return event
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
	}
	return nil
}

// held waits until the pump took the head of the queue and blocks on delivery.
func held(t *testing.T, s *Subscription, queued int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.queued() == queued }, time.Second, time.Millisecond)
}

func TestBridge_OrderPerFolder(t *testing.T) {
	b := NewBridge(16)
	defer b.Close()

	inbox := b.Subscribe(1)
	sent := b.Subscribe(2)

	published := []domain.SyncEvent{
		domain.Progress{Folder: 1, Done: 0, Total: 2},
		batch(1, 2, 1),
		domain.Progress{Folder: 1, Done: 2, Total: 2},
		domain.FlagUpdate{Folder: 1, Uid: 1, Flags: []string{domain.SeenFlag}},
		domain.MessagesRemoved{Folder: 1, Uids: []uint32{2}},
	}
	for _, event := range published {
		require.NoError(t, b.Publish(ctx, event))
	}
	require.NoError(t, b.Publish(ctx, batch(2, 7)))

	for _, expected := range published {
		assert.Equal(t, expected, receive(t, inbox))
	}
	assert.Equal(t, batch(2, 7), receive(t, sent))
}

func TestBridge_NoSubscriber(t *testing.T) {
	b := NewBridge(1)
	defer b.Close()

	for i := 0; i < 10; i++ {
		assert.NoError(t, b.Publish(ctx, batch(1, uint32(i))))
	}
}

func TestBridge_ProgressCoalescedInQueue(t *testing.T) {
	b := NewBridge(2)
	defer b.Close()
	s := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, batch(1, 10)))
	held(t, s, 0)

	for done := 1; done <= 5; done++ {
		require.NoError(t, b.Publish(ctx, domain.Progress{Folder: 1, Done: done, Total: 5}))
	}

	assert.Equal(t, batch(1, 10), receive(t, s))
	assert.Equal(t, domain.Progress{Folder: 1, Done: 1, Total: 5}, receive(t, s))
	assert.Equal(t, domain.Progress{Folder: 1, Done: 5, Total: 5}, receive(t, s))
}

func TestBridge_ProgressCoalescedBehindFullQueue(t *testing.T) {
	b := NewBridge(1)
	defer b.Close()
	s := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, batch(1, 1)))
	held(t, s, 0)
	require.NoError(t, b.Publish(ctx, batch(1, 2)))

	require.NoError(t, b.Publish(ctx, domain.Progress{Folder: 1, Done: 1, Total: 3}))
	require.NoError(t, b.Publish(ctx, domain.Progress{Folder: 1, Done: 2, Total: 3}))

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, batch(1, 3))
	}()

	assert.Equal(t, batch(1, 1), receive(t, s))
	assert.Equal(t, batch(1, 2), receive(t, s))
	assert.Equal(t, domain.Progress{Folder: 1, Done: 2, Total: 3}, receive(t, s))
	assert.Equal(t, batch(1, 3), receive(t, s), "a batch is never overtaken by older progress")
	assert.NoError(t, <-published)
}

func TestBridge_Backpressure(t *testing.T) {
	b := NewBridge(1)
	defer b.Close()
	s := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, batch(1, 1)))
	held(t, s, 0)
	require.NoError(t, b.Publish(ctx, batch(1, 2)))

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, domain.MessagesRemoved{Folder: 1, Uids: []uint32{1}})
	}()

	select {
	case <-published:
		assert.Fail(t, "publish returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, batch(1, 1), receive(t, s))
	assert.Equal(t, batch(1, 2), receive(t, s))
	assert.Equal(t, domain.MessagesRemoved{Folder: 1, Uids: []uint32{1}}, receive(t, s))
	assert.NoError(t, <-published)
}

func TestBridge_PublishCancelled(t *testing.T) {
	b := NewBridge(1)
	defer b.Close()
	s := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, batch(1, 1)))
	held(t, s, 0)
	require.NoError(t, b.Publish(ctx, batch(1, 2)))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.Publish(cancelled, batch(1, 3))
	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBridge_Unsubscribe(t *testing.T) {
	b := NewBridge(1)
	defer b.Close()
	inbox := b.Subscribe(1)
	other := b.Subscribe(1)

	require.NoError(t, b.Publish(ctx, batch(1, 1)))
	held(t, inbox, 0)
	require.NoError(t, b.Publish(ctx, batch(1, 2)))

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, batch(1, 3))
	}()

	assert.Equal(t, batch(1, 1), receive(t, other))
	inbox.Unsubscribe()
	assert.NoError(t, <-published, "a blocked publish is released by unsubscribe")

	_, open := <-inbox.Events()
	for open {
		_, open = <-inbox.Events()
	}

	assert.Equal(t, batch(1, 2), receive(t, other))
	assert.Equal(t, batch(1, 3), receive(t, other))

	inbox.Unsubscribe()
	require.NoError(t, b.Publish(ctx, batch(1, 4)))
	assert.Equal(t, batch(1, 4), receive(t, other))
}

func TestBridge_CloseEndsSubscriptions(t *testing.T) {
	b := NewBridge(4)
	s := b.Subscribe(0)

	require.NoError(t, b.Publish(ctx, domain.ErrorEvent{Account: "acc", Kind: domain.KindAuthExpired}))
	assert.Equal(t, domain.ErrorEvent{Account: "acc", Kind: domain.KindAuthExpired}, receive(t, s))

	b.Close()
	_, open := <-s.Events()
	assert.False(t, open)
}

func TestName(t *testing.T) {
	assert.Equal(t, "progress", Name(domain.Progress{}))
	assert.Equal(t, "header_batch", Name(domain.HeaderBatch{}))
	assert.Equal(t, "flag_update", Name(domain.FlagUpdate{}))
	assert.Equal(t, "messages_removed", Name(domain.MessagesRemoved{}))
	assert.Equal(t, "error", Name(domain.ErrorEvent{}))
}
