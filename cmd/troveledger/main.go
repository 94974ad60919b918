package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"TroveLedger/internal/config"
	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/server"
	"TroveLedger/migrations"
)

const (
	consumerName      = "troveledger"
	replayBatchSize   = 1000
	housekeepingEvery = 10 * time.Second
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("troveledger stopped")
	}
	logger.Info().Msg("troveledger shutdown complete")
}

func run(logger zerolog.Logger) error {
	cfg := config.FromEnv()

	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if err := ledger.ConfigureAssetSymbols(params.CollateralSymbol, params.StableSymbol, params.RewardSymbol); err != nil {
		return fmt.Errorf("asset symbols: %w", err)
	}

	// Ingestion stops first; workers keep running until the core outputs
	// are drained.
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ingestCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	var migrationFiles fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		migrationFiles = os.DirFS(cfg.MigrationsDir)
	}
	applied, err := persistence.NewMigrator(db, migrationFiles, observability.NewLogger("migrator")).Up(ingestCtx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	cmdChan := make(chan ingestion.Command, cfg.CommandChanSize)

	// --- Deterministic core ---
	deterministicCore := core.NewDeterministicCore(core.Config{
		Params:      params,
		LRUCapacity: cfg.IdempotencyLRUCapacity,
		Logger:      observability.NewLogger("core"),
	}, persistChan, projectionChan, persistence.NewPostgresIdempotencyChecker(db), metrics)

	// --- Recovery: snapshot + replay ---
	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(ingestCtx, deterministicCore, snapMgr, metrics, logger); err != nil {
		return err
	}
	if err := projection.RebuildBalances(ingestCtx, db, observability.NewLogger("projection")); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}

	// --- NATS ---
	natsLogger := observability.NewLogger("nats")
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ingestCtx, js, natsLogger); err != nil {
		return fmt.Errorf("ensure command stream: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ingestCtx, js, natsLogger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	// --- Workers ---
	errChan := make(chan error, 8)
	var workers, ingest sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	// Applied commands are acked on NATS only once their batch is committed.
	acks := ingestion.NewAckTracker()
	persistWorker.OnFlushed = func(outputs []core.CoreOutput) {
		acks.Release(outputs)
		for _, out := range outputs {
			select {
			case publishChan <- ingestion.NewPublishableEvent(out.Envelope):
			default:
				// Consumers can catch up from the event log
				metrics.ProjectionDrops.WithLabelValues("publish").Inc()
			}
		}
	}
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLogger("projection"))
	publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))

	workers.Add(3)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
		close(publishChan)
	}()
	go func() {
		defer workers.Done()
		if err := projWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("projection worker: %w", err)
		}
	}()
	go func() {
		defer workers.Done()
		if err := publisher.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("outbound publisher: %w", err)
		}
	}()

	// --- Command path: NATS -> decode -> core, admin API shares the channel ---
	rawChan := make(chan ingestion.RawEvent, cfg.CommandChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, natsLogger)

	ingestLogger := observability.NewLogger("ingestion")
	ingest.Add(2)
	go func() {
		defer ingest.Done()
		ingestion.DecodeLoop(ingestCtx, rawChan, cmdChan, ingestLogger)
	}()
	go func() {
		defer ingest.Done()
		ingestion.ProcessLoop(ingestCtx, cmdChan, deterministicCore, acks, ingestLogger)
	}()

	if err := subscriber.Subscribe(ingestCtx, consumerName, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- API ---
	queryService := query.NewQueryService(db, metrics)
	apiServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		State:         deterministicCore,
		Projections:   queryService,
		Ingest:        ingestion.NewAdminIngestService(cmdChan),
		HealthChecker: healthChecker,
		Logger:        observability.NewLogger("server"),
	})
	go func() {
		if err := apiServer.StartGRPC(ingestCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := apiServer.StartHTTPGateway(ingestCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go func() {
		if err := serveMetrics(ingestCtx, cfg.MetricsAddr, logger); err != nil {
			errChan <- err
		}
	}()

	go runHousekeeping(ingestCtx, deterministicCore, snapMgr, cfg, metrics, logger,
		map[string]func() int{
			"command":    func() int { return len(cmdChan) },
			"persist":    func() int { return len(persistChan) },
			"projection": func() int { return len(projectionChan) },
			"publish":    func() int { return len(publishChan) },
			"held_acks":  acks.Pending,
		})

	apiServer.SetServing(true)
	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("troveledger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Stop intake, then drain the core outputs into Postgres.
	healthChecker.SetReady(false)
	apiServer.SetServing(false)
	subscriber.Stop()
	stopIngest()
	ingest.Wait()

	close(persistChan)
	close(projectionChan)

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Dur("timeout", cfg.ShutdownTimeout).Msg("workers did not drain in time")
		stopWorkers()
		<-drained
	}

	finalCtx, cancelFinal := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelFinal()
	if err := takeSnapshot(finalCtx, deterministicCore, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", deterministicCore.GetSequence()-1).Msg("final snapshot saved")
	}
	return runErr
}

// recoverCore restores the latest verified snapshot and replays the event log
// after it. Any divergence from the logged state hashes aborts startup.
func recoverCore(
	ctx context.Context,
	dc *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()

	if n, err := snapMgr.VerifyPending(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if n > 0 {
		logger.Info().Int64("count", n).Msg("verified pending snapshots")
	}

	from := int64(0)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := dc.RestoreFromSnapshot(snap); err != nil {
			return fmt.Errorf("restore snapshot at %d: %w", snap.Sequence, err)
		}
		from = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no verified snapshot, replaying from sequence 0")
	}

	replayed, err := replayEventsFromLog(ctx, dc, snapMgr, from, logger)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	head, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return fmt.Errorf("latest sequence: %w", err)
	}
	if head != dc.GetSequence()-1 {
		return fmt.Errorf("%w: log head %d, core at %d", core.ErrReplayDiverged, head, dc.GetSequence()-1)
	}

	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	logger.Info().
		Int64("replayed", replayed).
		Int64("sequence", dc.GetSequence()).
		Hex("state_hash", hashBytes(dc.GetStateHash())).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func replayEventsFromLog(
	ctx context.Context,
	dc *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	from int64,
	logger zerolog.Logger,
) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			evt, err := ingestion.ParseCommand(row.EventType, row.Payload)
			if err != nil {
				return total, fmt.Errorf("decode seq=%d type=%s: %w", row.Sequence, row.EventType, err)
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := dc.ReplayEvent(evt, row.Payload, row.Sequence, hash); err != nil {
				return total, err
			}
			total++
		}
		from = rows[len(rows)-1].Sequence + 1
		logger.Info().Int64("replayed", total).Int64("next", from).Msg("replay progress")
	}
}

// runHousekeeping refreshes gauges and takes a snapshot every
// SnapshotInterval accepted commands.
func runHousekeeping(
	ctx context.Context,
	dc *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	cfg config.Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	channels map[string]func() int,
) {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 10_000
	}
	capacities := map[string]int{
		"command":    cfg.CommandChanSize,
		"persist":    cfg.PersistChanSize,
		"projection": cfg.ProjectionChanSize,
		"publish":    cfg.PublishChanSize,
	}

	lastSnapshotSeq := dc.GetSequence()
	ticker := time.NewTicker(housekeepingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, size := range channels {
				metrics.SetChannelMetrics(name, size(), capacities[name])
			}
			if v, err := dc.SystemView(); err == nil {
				metrics.ObserveSystem(v)
			}

			// Snapshots written earlier become loadable once their
			// sequence is in the log.
			if _, err := snapMgr.VerifyPending(ctx); err != nil {
				logger.Warn().Err(err).Msg("snapshot verification failed")
			}

			current := dc.GetSequence()
			if current-lastSnapshotSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, dc, snapMgr, metrics); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = current
			logger.Info().Int64("sequence", current-1).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot saves the core state. The snapshot stays unverified until its
// state hash is matched against the event log.
func takeSnapshot(
	ctx context.Context,
	dc *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()
	snap := dc.CreateSnapshotState()
	if snap.Sequence < 0 {
		return nil
	}
	size, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := snapMgr.VerifyPending(ctx); err != nil {
		return fmt.Errorf("verify snapshot: %w", err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func hashBytes(h [32]byte) []byte {
	return h[:]
}
