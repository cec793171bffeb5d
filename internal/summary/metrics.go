package summary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	summariesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_summaries_total",
			Help: "Chapter summaries produced, by source (provider or fallback).",
		},
		[]string{"source"},
	)
	rewritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_chapter_rewrites_total",
			Help: "Chapter edits classified as rewrites that triggered the invalidation cascade.",
		},
	)
)
