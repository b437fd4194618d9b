package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var PhotosProcessed = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "builder_photos_processed_total",
})
var PhotosSkipped = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "builder_photos_skipped_total",
})
var PhotosFailed = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "builder_photos_failed_total",
})
var ThumbnailsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "builder_thumbnails_deleted_total",
})
var BytesFetched = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "builder_storage_bytes_fetched_total",
})
var BuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "builder_build_duration_seconds",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})

func init() {
	prometheus.MustRegister(PhotosProcessed)
	prometheus.MustRegister(PhotosSkipped)
	prometheus.MustRegister(PhotosFailed)
	prometheus.MustRegister(ThumbnailsDeleted)
	prometheus.MustRegister(BytesFetched)
	prometheus.MustRegister(BuildDuration)
}
