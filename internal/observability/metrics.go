package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// Metrics holds all Prometheus metrics for TroveLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Protocol state ---
	SystemCollateral prometheus.Gauge
	SystemDebt       prometheus.Gauge
	SystemTCR        prometheus.Gauge
	RecoveryMode     prometheus.Gauge
	OraclePrice      prometheus.Gauge
	BaseRate         prometheus.Gauge
	ActiveTroves     prometheus.Gauge
	SPDeposits       prometheus.Gauge
	SPEpoch          prometheus.Gauge
	SPScale          prometheus.Gauge
	TotalStaked      prometheus.Gauge
	CollSurplus      prometheus.Gauge

	// --- Liquidation & redemption ---
	TrovesLiquidated   *prometheus.CounterVec
	LiquidatedDebt     *prometheus.CounterVec
	RedemptionsTotal   prometheus.Counter
	RedeemedStable     prometheus.Counter
	RedemptionFeesColl prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge
	ProjectionUpdateDur    *prometheus.HistogramVec

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_core_events_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_core_events_rejected_total",
			Help: "Commands rejected, by error kind",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_core_state_hash_duration_seconds",
			Help:    "Time to compute state digest and hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: gauge("trove_core_sequence", "Current global sequence number"),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trove_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trove_channel_capacity",
			Help: "Channel capacity",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trove_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PersistBackpressure: counter("trove_persist_backpressure_total", "Times core blocked on persist channel"),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize:      gauge("trove_dedup_lru_size", "Current LRU occupancy"),
		DedupLRUEvictions: counter("trove_dedup_lru_evictions_total", "Keys evicted from the dedup LRU"),
		DedupTier2Errors:  counter("trove_idempotency_tier2_errors_total", "Failed event log lookups, treated as not duplicate"),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		SystemCollateral: gauge("trove_system_collateral", "Entire system collateral"),
		SystemDebt:       gauge("trove_system_debt", "Entire system debt"),
		SystemTCR:        gauge("trove_system_tcr", "Total collateral ratio"),
		RecoveryMode:     gauge("trove_recovery_mode", "1 while TCR < CCR"),
		OraclePrice:      gauge("trove_oracle_price", "Last accepted collateral price"),
		BaseRate:         gauge("trove_base_rate", "Stored base rate"),
		ActiveTroves:     gauge("trove_active_troves", "Active Troves"),
		SPDeposits:       gauge("trove_stability_pool_deposits", "Total Stability Pool deposits"),
		SPEpoch:          gauge("trove_stability_pool_epoch", "Current Stability Pool epoch"),
		SPScale:          gauge("trove_stability_pool_scale", "Current Stability Pool scale"),
		TotalStaked:      gauge("trove_staking_total", "Total reward tokens staked"),
		CollSurplus:      gauge("trove_coll_surplus", "Unclaimed surplus collateral"),

		TrovesLiquidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_liquidated_total",
			Help: "Troves liquidated",
		}, []string{"mode"}),

		LiquidatedDebt: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_liquidated_debt_total",
			Help: "Debt liquidated, by destination",
		}, []string{"destination"}),

		RedemptionsTotal:   counter("trove_redemptions_total", "Redemptions applied"),
		RedeemedStable:     counter("trove_redeemed_stable_total", "Stable tokens redeemed"),
		RedemptionFeesColl: counter("trove_redemption_fees_total", "Redemption fees in collateral"),

		PersistEventsWritten:   counter("trove_persist_events_written_total", "Events written to Postgres"),
		PersistJournalsWritten: counter("trove_persist_journals_written_total", "Journal entries written to Postgres"),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry:        counter("trove_persist_retry_total", "Persistence retries"),
		PersistLastSequence: gauge("trove_persist_last_sequence", "Last persisted sequence"),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		SnapshotTaken: counter("trove_snapshot_taken_total", "Snapshots created"),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: gauge("trove_snapshot_size_bytes", "Last snapshot size"),
		SnapshotLastSeq:   gauge("trove_snapshot_last_sequence", "Sequence of last snapshot"),
		ReplayEventsTotal: counter("trove_replay_events_total", "Events replayed on startup"),
		ReplayDuration:    gauge("trove_replay_duration_seconds", "Total replay time"),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
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

// ObserveSystem refreshes the protocol gauges from a system view.
func (m *Metrics) ObserveSystem(v protocol.SystemView) {
	m.SystemCollateral.Set(fpmath.ToFloat64(v.EntireColl))
	m.SystemDebt.Set(fpmath.ToFloat64(v.EntireDebt))
	if v.TCR != nil {
		m.SystemTCR.Set(fpmath.ToFloat64(v.TCR))
	}
	if v.Price != nil {
		m.OraclePrice.Set(fpmath.ToFloat64(v.Price))
	}
	if v.RecoveryMode {
		m.RecoveryMode.Set(1)
	} else {
		m.RecoveryMode.Set(0)
	}
	m.BaseRate.Set(fpmath.ToFloat64(v.BaseRate))
	m.ActiveTroves.Set(float64(v.ActiveTroves))
	m.SPDeposits.Set(fpmath.ToFloat64(v.SPTotalDeposits))
	m.SPEpoch.Set(float64(v.Epoch))
	m.SPScale.Set(float64(v.Scale))
	m.TotalStaked.Set(fpmath.ToFloat64(v.TotalStaked))
	m.CollSurplus.Set(fpmath.ToFloat64(v.CollSurplus))
}

// ObserveResult counts the liquidations and redemptions of one command.
func (m *Metrics) ObserveResult(res *protocol.Result) {
	if res == nil {
		return
	}
	if l := res.Liquidation; l != nil {
		for _, t := range l.Troves {
			m.TrovesLiquidated.WithLabelValues(string(t.Mode)).Inc()
		}
		m.LiquidatedDebt.WithLabelValues("offset").Add(fpmath.ToFloat64(l.DebtOffset))
		m.LiquidatedDebt.WithLabelValues("redistributed").Add(fpmath.ToFloat64(l.DebtRedistributed))
	}
	if r := res.Redemption; r != nil {
		m.RedemptionsTotal.Inc()
		m.RedeemedStable.Add(fpmath.ToFloat64(r.Redeemed))
		m.RedemptionFeesColl.Add(fpmath.ToFloat64(r.Fee))
	}
}
