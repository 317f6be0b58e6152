package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "releasepipe_build_info",
		Help: "Build information of the release pipeline runner",
	}, []string{"version", "commit", "date"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasepipe_runs_total", Help: "Pipeline runs by terminal status.",
	}, []string{"status"})
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasepipe_builds_total", Help: "Build stage executions by result.",
	}, []string{"result"})
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "releasepipe_stage_duration_seconds",
		Help:    "Wall-clock duration of pipeline stages.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"stage"})

	CacheOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "releasepipe_cache_outcomes_total", Help: "Dependency cache restore outcomes.",
	}, []string{"outcome"})
	CacheSaveErrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "releasepipe_cache_save_errors_total", Help: "Advisory cache save failures.",
	})

	ArtifactsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "releasepipe_artifacts_uploaded_total", Help: "Artifacts registered by the build stage.",
	})
	ArtifactBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "releasepipe_artifact_bytes_total", Help: "Total bytes uploaded to the artifact store.",
	})

	ReleasesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "releasepipe_releases_published_total", Help: "Release assets published.",
	})
	ReleasesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "releasepipe_releases_skipped_total", Help: "Release stage skips due to a false gate.",
	})
)
