// Command phv-register serves the taxi and PHV licence register.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/phv-register/internal/cache"
	"github.com/and161185/phv-register/internal/config"
	"github.com/and161185/phv-register/internal/csvsource"
	"github.com/and161185/phv-register/internal/events"
	"github.com/and161185/phv-register/internal/ingest"
	"github.com/and161185/phv-register/internal/metrics"
	"github.com/and161185/phv-register/internal/migrate"
	"github.com/and161185/phv-register/internal/objectstore"
	"github.com/and161185/phv-register/internal/repository"
	"github.com/and161185/phv-register/internal/repository/postgres"
	grpcserver "github.com/and161185/phv-register/internal/server/grpc"
	httpserver "github.com/and161185/phv-register/internal/server/http"
	"github.com/and161185/phv-register/internal/service"
	"github.com/and161185/phv-register/internal/worker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const probeInterval = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("opsAddr", cfg.OpsAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	schema, err := migrate.Up(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info("schema ready", zap.Int64("version", schema))

	// Postgres
	db, err := postgres.New(ctx, cfg.DSN, 0)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	licenceRepo := postgres.NewLicenceRepo(db)
	authorityRepo := postgres.NewAuthorityRepo(db)
	jobRepo := postgres.NewJobRepo(db)
	jobInfoRepo := postgres.NewJobInfoRepo(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Lookups go through the cache; reconciliation always reads Postgres.
	var lookups repository.LicenceRepository = licenceRepo
	var evictor repository.LicenceCacheEvictor
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		lc := cache.NewLicenceCache(licenceRepo, rdb, cfg.CacheTTL, logger.Named("cache"))
		lookups, evictor = lc, lc
	} else {
		logger.Warn("licence cache disabled (no redis url)")
	}

	background := events.NewDetached(cfg.EventTimeout, logger.Named("events"))
	var purger service.CompliancePurger
	var pipelineOpts []ingest.PipelineOption
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewPublisher(cfg.KafkaBrokers)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		defer pub.Close()
		purger = events.NewDetachedPurger(events.NewCompliancePurger(pub, cfg.PurgeTopic), background)
		pipelineOpts = append(pipelineOpts, ingest.WithMailer(
			events.NewEmailSender(pub, cfg.EmailTopic),
			ingest.EmailTemplates{Success: cfg.SuccessTemplate, Failure: cfg.FailureTemplate},
			background,
		))
	} else {
		logger.Warn("events disabled (no kafka brokers)")
	}

	// Upload store
	mongoClient, err := objectstore.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	store := objectstore.New(mongoClient.Database(cfg.MongoDatabase))
	reader := csvsource.NewReader(store)
	metadata := csvsource.NewMetadataExtractor(store)

	// Services
	converter := service.NewConverter()
	contexts := service.NewRegisterContextFactory(authorityRepo, licenceRepo, cfg.ContextParallelism)
	registrar := service.NewRegisterService(contexts, licenceRepo, evictor, purger, m, logger.Named("register"))
	supervisor := service.NewJobSupervisor(jobRepo, jobInfoRepo, m, cfg.MaxErrors, logger.Named("jobs"))
	sentinel := service.NewSecuritySentinel(authorityRepo)
	pipeline := ingest.NewPipeline(supervisor, sentinel, registrar, logger.Named("pipeline"), pipelineOpts...)

	dispatcher := worker.NewDispatcher(ctx, cfg.Workers, cfg.QueueSize, logger.Named("worker"))
	svc := ingest.NewService(supervisor, pipeline, dispatcher, authorityRepo, lookups, converter,
		func(bucket, file string) ingest.Command {
			return ingest.NewCSVCommand(bucket, file, cfg.MaxCSVSize, reader, metadata, converter, logger.Named("csv"))
		},
		logger.Named("ingest"),
		ingest.WithUploads(store),
	)

	// HTTP API
	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpserver.NewRouter(httpserver.Options{
			Service:             svc,
			Verifier:            httpserver.NewTokenVerifier([]byte(cfg.JWTKey)),
			Metrics:             m,
			MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Health:              db.Ping,
			MaxErrorsInResponse: cfg.MaxErrorsInResponse,
			MaxUploadBytes:      cfg.MaxCSVSize,
			Log:                 logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health & reflection (dev)
	ops := grpcserver.NewOps(logger.Named("ops"), cfg.Dev)
	lis, err := net.Listen("tcp", cfg.OpsAddr)
	if err != nil {
		return fmt.Errorf("listen ops: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("listening (ops)", zap.String("addr", cfg.OpsAddr))
		return ops.Serve(lis)
	})
	g.Go(func() error {
		ops.Watch(gctx, db, probeInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		ops.Stop(cfg.ShutdownTimeout)
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Warn("register jobs still running at shutdown", zap.Error(err))
		}
		background.Wait()
		return nil
	})
	return g.Wait()
}
