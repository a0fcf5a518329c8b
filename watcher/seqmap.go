// SPDX-License-Identifier: GPL-3.0-or-later
package watcher

// seqMap maps message sequence numbers of the selected mailbox to UIDs.
// Sequence number n is uids[n-1].
type seqMap struct {
	uids []uint32
}

func newSeqMap(uids []uint32) *seqMap {
	return &seqMap{uids: append([]uint32{}, uids...)}
}

func (m *seqMap) len() int {
	return len(m.uids)
}

func (m *seqMap) uid(seq uint32) (uint32, bool) {
	if seq == 0 || int(seq) > len(m.uids) {
		return 0, false
	}
	return m.uids[seq-1], true
}

// expunge removes seq and renumbers every later message.
func (m *seqMap) expunge(seq uint32) (uint32, bool) {
	uid, ok := m.uid(seq)
	if !ok {
		return 0, false
	}
	m.uids = append(m.uids[:seq-1], m.uids[seq:]...)
	return uid, true
}

// add appends UIDs newer than the newest known one.
func (m *seqMap) add(uids []uint32) {
	for _, uid := range uids {
		if len(m.uids) > 0 && uid <= m.uids[len(m.uids)-1] {
			continue
		}
		m.uids = append(m.uids, uid)
	}
}
