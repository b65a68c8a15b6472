package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snapvault"

var (
	// Registry is a dedicated Prometheus registry for all vault metrics.
	Registry = prometheus.NewRegistry()

	// CaptureDuration measures time spent in a backup orchestration pass.
	CaptureDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_ms",
			Help:      "Duration of backup operations in milliseconds",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 30000},
		},
		[]string{"type"}, // backup
	)

	// CaptureTotal counts backup operations by type and outcome.
	CaptureTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_total",
			Help:      "Total number of backup operations",
		},
		[]string{"type", "outcome"},
	)

	// RecoveryDuration measures restore/verify latency.
	RecoveryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_duration_ms",
			Help:      "Duration of restore/verify operations in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		},
		[]string{"reason"}, // restore | verify
	)

	// RecoveryTotal counts restore/verify outcomes.
	RecoveryTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_total",
			Help:      "Total number of restore/verify operations",
		},
		[]string{"outcome"}, // ok | corrupted | rollback
	)

	// StoreSizeBytes tracks the on-disk footprint of each store area.
	StoreSizeBytes = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_size_bytes",
			Help:      "On-disk size of a store area",
		},
		[]string{"area"}, // chunks | manifests | metadata | wal | audit
	)

	// ChunkTotal counts chunk ingestion outcomes during backup.
	ChunkTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_total",
			Help:      "Total chunks processed during backup",
		},
		[]string{"outcome"}, // new | reuse
	)

	// ChunkDedupRatio reports the running dedup ratio across backups.
	ChunkDedupRatio = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunk_dedup_ratio",
			Help:      "Fraction of chunks that were already present in the store",
		},
	)

	// SnapshotsTracked reports the number of snapshots currently in the ledger.
	SnapshotsTracked = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshots_tracked_total",
			Help:      "Number of snapshots currently recorded in the ledger",
		},
	)

	// AuditDeniedTotal counts commands rejected by policy.
	AuditDeniedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_denied_total",
			Help:      "Total commands denied by policy",
		},
	)

	// AgentInfo exposes static information about the running binary.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the running binary",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the process is running and healthy",
		},
	)
)

var chunkTotalCount, chunkReuseCount int64

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running binary.
func SetAgentInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(osName, arch, version).Set(1)
}

// ObserveCapture records timing and counters for a backup operation.
func ObserveCapture(start time.Time, captureType, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	CaptureDuration.WithLabelValues(captureType).Observe(elapsed)
	CaptureTotal.WithLabelValues(captureType, outcome).Inc()
}

// ObserveRecovery records timing and outcome for a restore or verify.
func ObserveRecovery(start time.Time, reason, outcome string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	RecoveryDuration.WithLabelValues(reason).Observe(elapsed)
	RecoveryTotal.WithLabelValues(outcome).Inc()
}

// ObserveChunk records a chunk put-if-absent outcome and updates the
// running dedup ratio.
func ObserveChunk(outcome string) {
	if outcome != "reuse" {
		outcome = "new"
	}
	chunkTotalCount++
	if outcome == "reuse" {
		chunkReuseCount++
	}
	if chunkTotalCount > 0 {
		ChunkDedupRatio.Set(float64(chunkReuseCount) / float64(chunkTotalCount))
	}
	ChunkTotal.WithLabelValues(outcome).Inc()
}

// SetStoreSize reports the on-disk size of one store area.
func SetStoreSize(area string, sizeBytes int64) {
	if sizeBytes < 0 {
		return
	}
	StoreSizeBytes.WithLabelValues(area).Set(float64(sizeBytes))
}

// SetSnapshotsTracked reports how many snapshots the ledger currently holds.
func SetSnapshotsTracked(count int) {
	if count < 0 {
		count = 0
	}
	SnapshotsTracked.Set(float64(count))
}

// IncAuditDenied increments the policy-denial counter.
func IncAuditDenied() {
	AuditDeniedTotal.Inc()
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on addr and serves Registry until
// ctx is cancelled. It does not read store sizes itself; store_size_bytes
// only reports values passed to SetStoreSize.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[Metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
