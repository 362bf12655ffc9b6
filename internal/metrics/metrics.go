package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shardmesh"

var (
	migrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Count of server relocations by result code.",
		},
		[]string{"result"},
	)
	migrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Wall time of server relocations.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"result"},
	)
	teardownFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Count of ignored failures during nat and mount teardown.",
		},
		[]string{"kind"},
	)
	lockedServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locked_servers",
			Help:      "Number of servers with a relocation in flight.",
		},
	)
	overrides = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "routing_overrides",
			Help:      "Number of servers executing away from their home shard.",
		},
	)
	shardUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shard_up",
			Help:      "1 when the shard agent answered the last probe, 0 otherwise.",
		},
		[]string{"shard"},
	)
)

var registerMetrics sync.Once

// Register all metrics with reg.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(migrationsTotal)
		reg.MustRegister(migrationDuration)
		reg.MustRegister(teardownFailures)
		reg.MustRegister(lockedServers)
		reg.MustRegister(overrides)
		reg.MustRegister(shardUp)
	})
}

// RecordMigration records one finished relocation. result is "ok" or the
// error code it failed with.
func RecordMigration(result string, elapsed time.Duration) {
	migrationsTotal.WithLabelValues(result).Inc()
	migrationDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// RecordTeardownFailure counts an ignored nat or mount teardown failure.
func RecordTeardownFailure(kind string) {
	teardownFailures.WithLabelValues(kind).Inc()
}

// SetLocked records the size of the lock table.
func SetLocked(n int) {
	lockedServers.Set(float64(n))
}

// SetOverrides records the size of the override table.
func SetOverrides(n int) {
	overrides.Set(float64(n))
}

// SetShardUp records the liveness of a shard.
func SetShardUp(shard string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	shardUp.WithLabelValues(shard).Set(v)
}
