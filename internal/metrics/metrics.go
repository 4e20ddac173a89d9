package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilesAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bufarchive_files_added_total",
			Help: "Sounding files added to the archive",
		},
		[]string{"model"},
	)

	FilesRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bufarchive_files_retrieved_total",
			Help: "Sounding files retrieved from the archive",
		},
		[]string{"model"},
	)

	CleanActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bufarchive_clean_actions_total",
			Help: "Repair actions taken by reconciliation passes",
		},
		[]string{"action"},
	)
)
