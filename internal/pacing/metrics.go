package pacing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_pacing_stage_advances_total",
			Help: "Pacing stage transitions.",
		},
		[]string{"from", "to"},
	)
	oracleVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_pacing_oracle_verdicts_total",
			Help: "Completion oracle answers: complete, incomplete or error.",
		},
		[]string{"stage", "verdict"},
	)
	briefEnhancements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_pacing_brief_enhancements_total",
			Help: "EnhanceBrief outcomes.",
		},
		[]string{"result"},
	)
)
