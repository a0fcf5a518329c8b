// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

//go:generate mockgen -destination=flags_mocks_test.go -package=imapconnection -source flags.go
import (
	"context"
	"strconv"

	"github.com/CrawX/go-imap-mirror/domain"

	"github.com/emersion/go-imap"
)

type flagFetcher interface {
	fetchFlags(ctx context.Context, uids []uint32, changedSince uint64) ([]*domain.FlagChange, error)
}

type uidFetcher interface {
	uidFetch(ctx context.Context, seqset *imap.SeqSet, items []imap.FetchItem, modifiers []interface{}) ([]*imap.Message, error)
}

// condStoreFlagFetcher asks only for messages whose MODSEQ moved past
// changedSince. Without a previous mod-sequence it behaves like the plain
// fetcher but still records MODSEQ.
type condStoreFlagFetcher struct {
	imapConn uidFetcher
}

func (c *condStoreFlagFetcher) fetchFlags(ctx context.Context, uids []uint32, changedSince uint64) ([]*domain.FlagChange, error) {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, fetchModSeq}

	var modifiers []interface{}
	if changedSince > 0 {
		modifiers = []interface{}{imap.RawString("CHANGEDSINCE"), imap.RawString(strconv.FormatUint(changedSince, 10))}
	}

	messages, err := c.imapConn.uidFetch(ctx, flagSeqSet(uids), items, modifiers)
	if err != nil {
		return nil, err
	}
	return flagChanges(messages, uids), nil
}

// plainFlagFetcher reads FLAGS of every requested message.
type plainFlagFetcher struct {
	imapConn uidFetcher
}

func (p *plainFlagFetcher) fetchFlags(ctx context.Context, uids []uint32, _ uint64) ([]*domain.FlagChange, error) {
	messages, err := p.imapConn.uidFetch(ctx, flagSeqSet(uids), []imap.FetchItem{imap.FetchUid, imap.FetchFlags}, nil)
	if err != nil {
		return nil, err
	}
	return flagChanges(messages, uids), nil
}

// flagSeqSet covers uids, or the whole mailbox when none are given.
func flagSeqSet(uids []uint32) *imap.SeqSet {
	seqset := new(imap.SeqSet)
	if len(uids) == 0 {
		seqset.AddRange(1, 0)
	} else {
		seqset.AddNum(uids...)
	}
	return seqset
}

func flagChanges(messages []*imap.Message, uids []uint32) []*domain.FlagChange {
	var wanted map[uint32]bool
	if len(uids) > 0 {
		wanted = make(map[uint32]bool, len(uids))
		for _, uid := range uids {
			wanted[uid] = true
		}
	}

	changes := make([]*domain.FlagChange, 0, len(messages))
	for _, msg := range messages {
		if wanted != nil && !wanted[msg.Uid] {
			continue
		}
		changes = append(changes, &domain.FlagChange{
			Uid:    msg.Uid,
			Flags:  domain.NormalizeFlags(msg.Flags),
			ModSeq: modSeq(msg),
		})
	}
	return changes
}
