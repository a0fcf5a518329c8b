// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

import (
	"sort"

	"github.com/CrawX/go-imap-mirror/domain"
)

// window is the part of a fetch window [low, target) still to be fetched.
// Batches run newest first so a resumed window continues right below the
// cursor boundary.
type window struct {
	target  uint32
	done    int
	total   int
	batches [][]uint32
}

func (w *window) firstBatch(batchSize int) int {
	return w.done/batchSize + 1
}

func (w *window) batchCount(batchSize int) int {
	return (w.total + batchSize - 1) / batchSize
}

// planWindow splits the server UIDs in [low, target) into batches. UIDs at or
// above the cursor boundary are already cached and only counted as done.
func planWindow(serverUids []uint32, low uint32, cursor *domain.SyncCursor, target uint32, batchSize int) *window {
	boundary := target
	if cursor != nil {
		boundary = cursor.Boundary
	}

	pending := []uint32{}
	done := 0
	for _, uid := range serverUids {
		if uid < low || uid >= target {
			continue
		}
		if uid >= boundary {
			done++
			continue
		}
		pending = append(pending, uid)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] > pending[j] })

	return &window{
		target:  target,
		done:    done,
		total:   done + len(pending),
		batches: partitionUids(pending, batchSize),
	}
}

func partitionUids(uids []uint32, partitionSize int) [][]uint32 {
	batches := make([][]uint32, 0, (len(uids)+partitionSize-1)/partitionSize)

	for partitionSize < len(uids) {
		uids, batches = uids[partitionSize:], append(batches, uids[0:partitionSize:partitionSize])
	}
	if len(uids) > 0 {
		batches = append(batches, uids)
	}

	return batches
}

// lowest returns the smallest UID of a newest first batch.
func lowest(batch []uint32) uint32 {
	return batch[len(batch)-1]
}

func sortedNewestFirst(headers []*domain.MessageHeader) []*domain.MessageHeader {
	sort.Slice(headers, func(i, j int) bool { return headers[i].Uid > headers[j].Uid })
	return headers
}

func uidSet(uids []uint32) map[uint32]bool {
	set := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		set[uid] = true
	}
	return set
}
