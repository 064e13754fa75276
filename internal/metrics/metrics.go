package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sessions_started_total",
		Help: "Attendance sessions opened.",
	})

	CodeRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_code_rotations_total",
		Help: "Successful rotating-code generations.",
	})

	TokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_tokens_issued_total",
		Help: "Verification tokens minted after a valid scan.",
	})

	ScanRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_scan_rejections_total",
		Help: "Rejected scan attempts by reason.",
	}, []string{"reason"})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_redemptions_total",
		Help: "Token redemption attempts by outcome.",
	}, []string{"outcome"})
)
