// SPDX-License-Identifier: GPL-3.0-or-later
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_sync_jobs_total",
			Help: "Finished sync jobs by outcome.",
		},
		[]string{
			"result", // watching, failed, cancelled
		},
	)
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_sync_state_transitions_total",
			Help: "Sync job state transitions by entered state.",
		},
		[]string{"state"},
	)
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imap_mirror_sync_jobs_active",
			Help: "Folders with a sync job that is not idle.",
		},
	)
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_sync_retries_total",
			Help: "Backoff retries by error kind.",
		},
		[]string{"kind"},
	)
	HeadersFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imap_mirror_headers_fetched_total",
			Help: "Message headers fetched and committed.",
		},
	)
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imap_mirror_batch_duration_seconds",
			Help:    "Duration of one header batch, fetch and commit.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
	PushNotices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_push_notices_total",
			Help: "Mailbox change notices received while watching.",
		},
		[]string{
			"kind", // EXISTS, EXPUNGE, FETCH
		},
	)
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_events_total",
			Help: "Sync events accepted by the event bridge.",
		},
		[]string{"type"},
	)
	ProgressCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imap_mirror_progress_coalesced_total",
			Help: "Progress events replaced by a newer one on a full queue.",
		},
	)
	Authentications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imap_mirror_authentications_total",
			Help: "SASL authentication attempts.",
		},
		[]string{
			"mechanism",
			"result", // ok, expired, error
		},
	)
)
