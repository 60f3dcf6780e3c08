package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"YPoolLedger/internal/core"
	"YPoolLedger/internal/event"
	"YPoolLedger/internal/ingestion"
	"YPoolLedger/internal/observability"
	"YPoolLedger/internal/persistence"
	"YPoolLedger/internal/projection"
	"YPoolLedger/internal/query"
	"YPoolLedger/internal/server"
	"YPoolLedger/internal/state"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		logger := observability.NewLogger("main")
		logger.Fatal().Err(err).Msg("load config")
	}

	logCloser := observability.EnableFileOutput(cfg.LogFileConfig())
	defer logCloser.Close()

	logger := observability.NewLogger("main")
	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("ypoolledger stopped with error")
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg Config, logger zerolog.Logger) error {
	logger.Info().Msg("YPoolLedger starting")
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// --- Context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	// --- Run SQL migrations ---
	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("migrations applied")

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection and publish
	// channels drop when full.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableRecord, cfg.PublishChanSize)

	// --- Settlement core ---
	settlementCore := core.NewSettlementCore(
		0,
		core.NewChannelSink(persistCoreChan, projectionCoreChan),
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
	)

	// --- Recovery: snapshot restore + replay ---
	if err := recoverState(ctx, snapMgr, settlementCore, metrics, logger); err != nil {
		return err
	}

	// --- Projections ---
	rewardHistory := projection.NewRewardHistoryProjection()
	if cfg.RebuildProjectionsOnStart {
		if err := projection.RebuildProjections(ctx, db, rewardHistory); err != nil {
			return fmt.Errorf("rebuild projections: %w", err)
		}
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if st := nc.Status(); st != nats.CONNECTED {
			return fmt.Errorf("nats %s", st)
		}
		return nil
	})
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Services ---
	queryService := query.NewQueryService(settlementCore, db, rewardHistory, metrics)
	submissions := make(chan ingestion.Submission)
	ingestService := ingestion.NewGRPCIngestService(submissions)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		RewardHistory: rewardHistory,
		TakeSnapshot: func(ctx context.Context) (int64, error) {
			return takeSnapshot(ctx, settlementCore, snapMgr, metrics)
		},
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
	})

	// --- Workers ---
	// Workers outlive the ingress group: they drain until the core's output
	// channels are closed, so every applied event reaches the event log.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers errgroup.Group

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	workers.Go(func() error { return persistWorker.Run(workerCtx) })

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, rewardHistory, metrics)
	workers.Go(func() error { return projWorker.Run(workerCtx) })

	workers.Go(func() error { return outboundPublisher.Run(workerCtx) })

	workers.Go(func() error {
		bridgeCoreOutputs(workerCtx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics)
		return nil
	})

	// --- Ingress ---
	ingress, ingressCtx := errgroup.WithContext(ctx)

	typedEventChan := make(chan inboundEvent, cfg.InboundChanSize)
	resolver := ingestion.NewSubjectResolver(ingestion.DefaultSubjects())

	// 1. NATS → typed events
	ingress.Go(func() error {
		runNATSDecoder(ingressCtx, rawEventChan, typedEventChan, resolver, metrics)
		return nil
	})

	// 2. Typed events + gRPC submissions → core
	ingress.Go(func() error {
		runCoreLoop(ingressCtx, typedEventChan, submissions, settlementCore, metrics)
		return nil
	})

	// 3. gRPC server
	ingress.Go(func() error { return grpcServer.StartGRPC(ingressCtx) })

	// 4. HTTP/JSON gateway
	ingress.Go(func() error { return grpcServer.StartHTTPGateway(ingressCtx) })

	// 5. Periodic snapshots and channel gauges
	ingress.Go(func() error {
		runPeriodicSnapshots(ingressCtx, settlementCore, snapMgr, cfg.SnapshotInterval, metrics)
		return nil
	})
	ingress.Go(func() error {
		monitorChannels(ingressCtx, metrics, map[string]func() (int, int){
			"persist":    func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
			"projection": func() (int, int) { return len(projectionCoreChan), cap(projectionCoreChan) },
			"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
			"inbound":    func() (int, int) { return len(rawEventChan), cap(rawEventChan) },
		})
		return nil
	})

	// 6. Prometheus metrics server
	ingress.Go(func() error { return serveMetrics(ingressCtx, cfg.MetricsAddr, logger) })

	// The first admin event of an empty ledger fixes the reward value decimals
	if settlementCore.GetSequence() == 0 && cfg.RewardValueDecimals != state.DefaultRewardValueDecimals {
		rec, err := ingestService.SubmitEvent(ctx, event.NewRewardDecimalsSet(cfg.RewardValueDecimals, time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("apply configured reward decimals: %w", err)
		}
		logger.Info().Int64("seq", rec.Sequence).Uint8("decimals", cfg.RewardValueDecimals).Msg("reward value decimals configured")
	}

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Int64("next_sequence", settlementCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("YPoolLedger ready")

	// --- Wait for shutdown ---
	<-ingressCtx.Done()
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	natsSubscriber.Stop()

	ingressErr := ingress.Wait()
	if ingressErr != nil && !errors.Is(ingressErr, context.Canceled) {
		logger.Error().Err(ingressErr).Msg("ingress failed, shutting down")
	} else {
		logger.Info().Msg("shutdown signal received")
		ingressErr = nil
	}

	// No goroutine applies events any more: close the core's outputs and let
	// the workers drain them.
	close(persistCoreChan)
	close(projectionCoreChan)
	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()

	var drainErr error
	select {
	case drainErr = <-drained:
	case <-time.After(cfg.ShutdownDrainTimeout):
		logger.Error().Dur("timeout", cfg.ShutdownDrainTimeout).Msg("workers did not drain, cancelling")
		cancelWorkers()
		drainErr = <-drained
	}
	if drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		logger.Error().Err(drainErr).Msg("worker failed during drain")
	}

	// Final snapshot once the event log holds every applied event
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if seq, err := takeSnapshot(shutdownCtx, settlementCore, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if seq >= 0 {
		logger.Info().Int64("seq", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("YPoolLedger shutdown complete")
	return ingressErr
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
