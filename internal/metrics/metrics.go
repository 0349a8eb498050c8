// Package metrics defines the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoomsOpen tracks the number of currently open vote rooms.
	RoomsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "okiami_rooms_open",
			Help: "Number of currently open vote rooms",
		},
	)

	// ParticipantsConnected tracks connected participants across all rooms.
	ParticipantsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "okiami_participants_connected",
			Help: "Connected participants across all rooms",
		},
	)

	// NotificationsTotal counts accepted notifications by kind.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okiami_notifications_total",
			Help: "Accepted notifications by kind",
		},
		[]string{"kind"},
	)

	// NotificationsRejected counts notifications dropped by validation.
	NotificationsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okiami_notifications_rejected_total",
			Help: "Notifications dropped by boundary validation",
		},
	)

	// VotesTallied counts votes accepted by the active strategy.
	VotesTallied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okiami_votes_tallied_total",
			Help: "Votes accepted by the active vote strategy",
		},
	)

	// RelayPostsTotal counts mirror posts handed to commenters, by outcome.
	RelayPostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okiami_relay_posts_total",
			Help: "Mirror posts handed to commenters by outcome",
		},
		[]string{"outcome"},
	)

	// CensusRefreshFailures counts failed connection-census refreshes.
	CensusRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "okiami_census_refresh_failures_total",
			Help: "Failed external connection census refreshes",
		},
	)

	// RPCRequestsTotal counts dispatched RPC requests by method and status.
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "okiami_rpc_requests_total",
			Help: "Dispatched RPC requests by method and status",
		},
		[]string{"method", "status"},
	)
)
