package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustdist",
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Ingest runs by outcome.",
	}, []string{"status"})
	releasesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rustdist",
		Subsystem: "ingest",
		Name:      "releases_inserted_total",
		Help:      "New release rows written by ingest runs.",
	})
	targetsAdded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rustdist",
		Subsystem: "ingest",
		Name:      "targets_added_total",
		Help:      "New target rows written by ingest runs.",
	})
	hashConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rustdist",
		Subsystem: "ingest",
		Name:      "hash_conflicts_total",
		Help:      "Targets whose upstream hash differed from the stored, immutable one.",
	})
	entriesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rustdist",
		Subsystem: "ingest",
		Name:      "entries_skipped_total",
		Help:      "Manifest entries skipped for missing fields.",
	})
)
