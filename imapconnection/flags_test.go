// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"context"
	"errors"
	"testing"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/emersion/go-imap"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
)

func TestCondStoreFlagFetcher_ChangedSince(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := NewMockuidFetcher(ctrl)
	fetcher := condStoreFlagFetcher{conn}

	seqset := &imap.SeqSet{}
	seqset.AddRange(1, 0)
	conn.EXPECT().
		uidFetch(gomock.Any(), gomock.Eq(seqset), gomock.Eq([]imap.FetchItem{imap.FetchUid, imap.FetchFlags, fetchModSeq}),
			gomock.Eq([]interface{}{imap.RawString("CHANGEDSINCE"), imap.RawString("812")})).
		Return([]*imap.Message{
			{Uid: 7, Flags: []string{`\Seen`, `\Recent`}, Items: map[imap.FetchItem]interface{}{fetchModSeq: []interface{}{"820"}}},
		}, nil)

	changes, err := fetcher.fetchFlags(context.Background(), nil, 812)
	assert.NoError(t, err)
	assert.Equal(t, []*domain.FlagChange{{Uid: 7, Flags: []string{`\Seen`}, ModSeq: 820}}, changes)
}

func TestCondStoreFlagFetcher_NoModSeqYet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := NewMockuidFetcher(ctrl)
	fetcher := condStoreFlagFetcher{conn}

	seqset := &imap.SeqSet{}
	seqset.AddNum(u32a(3, 4)...)
	conn.EXPECT().
		uidFetch(gomock.Any(), gomock.Eq(seqset), gomock.Any(), gomock.Nil()).
		Return([]*imap.Message{{Uid: 3}, {Uid: 4, Flags: []string{`\Flagged`}}}, nil)

	changes, err := fetcher.fetchFlags(context.Background(), u32a(3, 4), 0)
	assert.NoError(t, err)
	assert.Equal(t, []*domain.FlagChange{
		{Uid: 3, Flags: []string{}},
		{Uid: 4, Flags: []string{`\Flagged`}},
	}, changes)
}

func TestPlainFlagFetcher_FiltersUnrequested(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := NewMockuidFetcher(ctrl)
	fetcher := plainFlagFetcher{conn}

	seqset := &imap.SeqSet{}
	seqset.AddNum(u32a(1, 2)...)
	conn.EXPECT().
		uidFetch(gomock.Any(), gomock.Eq(seqset), gomock.Eq([]imap.FetchItem{imap.FetchUid, imap.FetchFlags}), gomock.Nil()).
		Return([]*imap.Message{
			{Uid: 1, Flags: []string{`\Seen`, `\Answered`}},
			// unsolicited FETCH for a message outside the request
			{Uid: 9, Flags: []string{`\Seen`}},
		}, nil)

	changes, err := fetcher.fetchFlags(context.Background(), u32a(1, 2), 500)
	assert.NoError(t, err)
	assert.Equal(t, []*domain.FlagChange{{Uid: 1, Flags: []string{`\Answered`, `\Seen`}}}, changes)
}

func TestPlainFlagFetcher_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	conn := NewMockuidFetcher(ctrl)
	fetcher := plainFlagFetcher{conn}

	fetchErr := domain.NewError(domain.KindTransport, "fetch", errors.New("connection reset"))
	conn.EXPECT().uidFetch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, fetchErr)

	_, err := fetcher.fetchFlags(context.Background(), nil, 0)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}
