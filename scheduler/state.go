// SPDX-License-Identifier: GPL-3.0-or-later
package scheduler

// State is the lifecycle position of one folder's sync job.
type State int

const (
	StateIdle = State(iota)
	StateListing
	StateFetchingHeaders
	StateReconcilingFlags
	StateWatching
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListing:
		return "Listing"
	case StateFetchingHeaders:
		return "FetchingHeaders"
	case StateReconcilingFlags:
		return "ReconcilingFlags"
	case StateWatching:
		return "Watching"
	case StateBackoff:
		return "Backoff"
	}
	return "Unknown"
}
