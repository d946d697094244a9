package volumes

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics instruments a TileCache, grounded on pmtiles/server_metrics.go's
// dirCache* gauges and counters, generalized from a directory cache keyed by
// (archive,offset,length) to a tile cache keyed by (x,y,z,ds).
type cacheMetrics struct {
	loaded      prometheus.Counter
	downloading prometheus.Counter
	missing     prometheus.Counter
	delayed     prometheus.Counter
	entries     prometheus.Gauge
	mappedBytes prometheus.Gauge
}

// downloaderMetrics instruments a Downloader, grounded on
// pmtiles/server_metrics.go's bucketRequests/bucketRequestDuration pair.
type downloaderMetrics struct {
	requests      *prometheus.CounterVec
	requestLength prometheus.Histogram
	queueDepth    prometheus.Gauge
	inFlight      prometheus.Gauge
}

func register[K prometheus.Collector](logger *log.Logger, metric K) K {
	if err := prometheus.Register(metric); err != nil {
		if logger != nil {
			logger.Println(err)
		}
	}
	return metric
}

// createCacheMetrics registers the TileCache gauges/counters for one scope.
// Registering a scope twice does not panic: register logs the duplicate
// registration error and returns a collector that is not registered.
func createCacheMetrics(scope string, logger *log.Logger) *cacheMetrics {
	ns := "vesuvius_volumes"
	return &cacheMetrics{
		loaded: register(logger, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_loaded_total",
			Help: "Tiles that transitioned into the Loaded state",
		})),
		downloading: register(logger, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_downloading_total",
			Help: "Tiles for which a download was enqueued",
		})),
		missing: register(logger, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_missing_total",
			Help: "Tiles that transitioned into the Missing state",
		})),
		delayed: register(logger, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_delayed_total",
			Help: "Tiles that received a 420 backpressure response",
		})),
		entries: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_cache_entries",
			Help: "Number of tracked tile cache entries",
		})),
		mappedBytes: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: scope, Name: "tile_cache_mapped_bytes",
			Help: "Bytes currently held by memory-mapped Loaded tiles",
		})),
	}
}

// createDownloaderMetrics registers the Downloader's queue/in-flight/result
// instrumentation for one scope.
func createDownloaderMetrics(scope string, logger *log.Logger) *downloaderMetrics {
	ns := "vesuvius_volumes"
	return &downloaderMetrics{
		requests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: scope, Name: "download_requests_total",
			Help: "Completed downloads by result (done, delayed, failed)",
		}, []string{"result"})),
		requestLength: register(logger, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: scope, Name: "download_duration_seconds",
			Help:    "Duration of a single tile download",
			Buckets: prometheus.DefBuckets,
		})),
		queueDepth: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: scope, Name: "download_queue_depth",
			Help: "Pending download tasks not yet dispatched",
		})),
		inFlight: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: scope, Name: "download_in_flight",
			Help: "Downloads currently executing",
		})),
	}
}

func (m *downloaderMetrics) observeResult(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}
