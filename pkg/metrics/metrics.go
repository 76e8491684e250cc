package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthenticationsTotal counts controller authentications by status
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_signer_authentications_total",
			Help: "Total number of controller authentication attempts",
		},
		[]string{"status"},
	)

	// SessionsIssuedTotal counts issued capability grants
	SessionsIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_signer_sessions_issued_total",
			Help: "Total number of capability grants issued",
		},
		[]string{"status"},
	)

	// SignRequestsTotal counts sign requests by payload kind and status
	SignRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_signer_sign_requests_total",
			Help: "Total number of sign requests",
		},
		[]string{"kind", "status"},
	)

	// SignDuration tracks custody signing latency
	SignDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_signer_sign_duration_seconds",
			Help:    "Custody signing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// SessionsRevokedTotal counts revoked sessions
	SessionsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "session_signer_sessions_revoked_total",
			Help: "Total number of revoked sessions",
		},
	)
)
