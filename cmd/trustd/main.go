package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/actions"
	"github.com/danielpatrickdp/roomtrust/internal/api"
	"github.com/danielpatrickdp/roomtrust/internal/config"
	"github.com/danielpatrickdp/roomtrust/internal/events"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region main
func main() {
	configPath := flag.String("config", os.Getenv("ROOMTRUST_CONFIG"), "path to config file (yaml/toml/json)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("trustd exited", zap.Error(err))
	}
	logger.Info("trustd stopped")
}

// #endregion main

// #region run
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := state.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := []ledger.Option{
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithMetrics(m),
		ledger.WithGate(gate.NewGate(cfg.Gate)),
	}
	if cfg.KafkaEnabled() {
		pub := events.NewKafkaPublisher(cfg.Kafka, logger.Named("events"))
		defer pub.Close()
		opts = append(opts, ledger.WithPublisher(pub))
		logger.Info("publishing score changes", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	l := ledger.New(store, cfg.Ledger, opts...)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	handlers := actions.New(l, store, actions.Config{Location: loc},
		actions.WithLogger(logger.Named("actions")), actions.WithMetrics(m))

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = reg
	}
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handler{Ledger: l, Actions: handlers}, logger.Named("http"), gatherer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	var lis net.Listener
	if cfg.GRPC.Addr != "" {
		if lis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("db", cfg.DBPath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if lis != nil {
		g.Go(func() error {
			logger.Info("grpc health listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))
		grpcSrv.GracefulStop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	started := time.Now()
	err = g.Wait()
	logger.Info("servers stopped", zap.Duration("uptime", time.Since(started)))
	return err
}

// #endregion run
