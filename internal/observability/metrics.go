package observability

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for YPoolLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Pool ---
	PoolTotalPCV    prometheus.Gauge
	PoolTotalShares prometheus.Gauge
	ChainPCV        *prometheus.GaugeVec
	ChainLocked     *prometheus.GaugeVec
	SwapsInitiated  prometheus.Counter
	SwapsCompleted  *prometheus.CounterVec

	// --- Rewards ---
	RewardRate       prometheus.Histogram
	RewardsGranted   prometheus.Counter
	RewardsForfeited prometheus.Counter
	RewardsClaimed   prometheus.Counter
	EpochAmount      prometheus.Gauge
	EpochNumber      prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	ClockRegressions      *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten  prometheus.Counter
	PersistRecordsWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur    *prometheus.HistogramVec
	ProjectionLastSequence prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// It registers on the default registry and must be called once per process.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_core_events_rejected_total",
			Help: "Events rejected (dedup, precondition, arithmetic)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ypool_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ypool_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_core_sequence",
			Help: "Next sequence to be assigned by core",
		}),

		// Pool
		PoolTotalPCV: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_pool_total_pcv",
			Help: "Total liquidity across all chains (token base units)",
		}),

		PoolTotalShares: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_pool_total_shares",
			Help: "Total outstanding shares",
		}),

		ChainPCV: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ypool_chain_pcv",
			Help: "Liquidity held on a chain",
		}, []string{"chain_id"}),

		ChainLocked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ypool_chain_locked",
			Help: "Liquidity locked by in-flight swaps on a chain",
		}, []string{"chain_id"}),

		SwapsInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_swaps_initiated_total",
			Help: "Swaps initiated",
		}),

		SwapsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_swaps_completed_total",
			Help: "Swaps completed by completion kind",
		}, []string{"completion"}),

		// Rewards
		RewardRate: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ypool_reward_rate_base_points",
			Help:    "Reward rate of settled swaps",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 2500, 5000, 10000},
		}),

		RewardsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_rewards_granted_total",
			Help: "Reward credited to accounts (reward token units)",
		}),

		RewardsForfeited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_rewards_forfeited_total",
			Help: "Reward refused by the epoch budget",
		}),

		RewardsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_rewards_claimed_total",
			Help: "Reward paid out by claims",
		}),

		EpochAmount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_epoch_amount",
			Help: "Reward granted in the current epoch",
		}),

		EpochNumber: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_epoch_number",
			Help: "Current reward epoch number",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ypool_channel_size",
			Help: "Current channel occupancy",
		}, []string{"channel"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ypool_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ypool_channel_utilization_ratio",
			Help: "Channel occupancy / capacity",
		}, []string{"channel"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_projection_drops_total",
			Help: "Outputs dropped on a full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_publish_drops_total",
			Help: "Audit records dropped on a full publish channel",
		}),

		// Ingestion
		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_ingest_messages_total",
			Help: "Inbound messages by outcome",
		}, []string{"event_type", "outcome"}),

		// Idempotency & Ordering
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"class"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_dedup_keys",
			Help: "Idempotency keys held in memory",
		}),

		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),

		ClockRegressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_clock_regressions_total",
			Help: "Events rejected for a timestamp behind the ledger clock",
		}, []string{"partition"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_persist_records_written_total",
			Help: "Audit records written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ypool_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ypool_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projection
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ypool_projection_update_duration_seconds",
			Help:    "Time to apply one output to the projections",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"kind"}),

		ProjectionLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ypool_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ypool_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ypool_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ypool_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ypool_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}

// SetChainLiquidity publishes a chain's pcv and locked amount.
func (m *Metrics) SetChainLiquidity(chainID uint32, pcv, locked *uint256.Int) {
	label := strconv.FormatUint(uint64(chainID), 10)
	m.ChainPCV.WithLabelValues(label).Set(AmountToFloat(pcv))
	m.ChainLocked.WithLabelValues(label).Set(AmountToFloat(locked))
}

// AmountToFloat converts a 256-bit amount to the nearest float64. Gauges
// lose precision above 2^53; they are for dashboards, not reconciliation.
func AmountToFloat(x *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
