// apollod runs Apollo as a standalone daemon: it owns the process-wide
// facade, drains whatever ingest transport is configured into
// AttachModel, periodically flushes all regions, and exposes a minimal
// HTTP control surface for metrics, health, and manual model attach.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apollo-rt/apollo/internal/apollo"
	"github.com/apollo-rt/apollo/internal/config"
	"github.com/apollo-rt/apollo/internal/history"
	"github.com/apollo-rt/apollo/internal/ingesttransport"
	"github.com/apollo-rt/apollo/internal/observability"
	"github.com/apollo-rt/apollo/internal/reduce"
	"github.com/apollo-rt/apollo/internal/resilience"
	"github.com/apollo-rt/apollo/internal/telemetry"
)

const (
	serviceName    = "apollod"
	serviceVersion = "0.1.0"
)

type server struct {
	logger      *zap.Logger
	cfg         *config.Config
	facade      *apollo.Apollo
	metrics     *observability.Metrics
	transport   ingesttransport.Transport
	autoFlusher *apollo.AutoFlusher
	httpSrv     *http.Server
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting apollod", zap.String("service", serviceName), zap.String("version", serviceVersion))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	shutdownTracing, err := observability.InitTracing(cfg.Observability.ServiceName, serviceVersion, cfg.Observability.OTLPEndpoint)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	metrics := observability.NewMetrics()

	var pub telemetry.Publisher = telemetry.NoopPublisher{}
	if cfg.Telemetry.Address != "" {
		grpcPub, err := telemetry.Dial(cfg.Telemetry.Address, logger)
		if err != nil {
			logger.Warn("telemetry daemon unreachable at startup, running degraded", zap.Error(err))
		} else {
			pub = grpcPub
		}
	}

	// The all-gather is the one collective the runtime cannot just retry
	// inline: a flapping peer would otherwise make every flush attempt
	// the exchange again. Guard it with a breaker so repeated failures
	// make later flushes fail fast rather than calling it bare.
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCollectiveBreakerConfig(), logger)
	loopback := reduce.LoopbackCollective{}
	collective := resilience.NewGuardedCollective(loopback.AllGather, breaker)

	var historyExporter *history.Exporter
	if cfg.History.Enabled {
		historyExporter, err = history.New(cfg.History.DSN, logger)
		if err != nil {
			logger.Warn("history database unreachable at startup, running without measurement export", zap.Error(err))
			historyExporter = nil
		}
	}

	facade := apollo.Init(apollo.Options{
		Topology: apollo.Topology{
			Rank:              cfg.Topology.Rank,
			Nodes:             cfg.Topology.Nodes,
			Procs:             cfg.Topology.Procs,
			CPUsPerNode:       cfg.Topology.CPUsPerNode,
			ThreadsPerProcCap: cfg.Topology.ThreadsPerProcCap,
		},
		InitModelSpec: cfg.InitModel.Spec,
		Telemetry:     pub,
		Collective:    collective,
		Metrics:       metrics,
		Logger:        logger,
		History:       historyExporter,
	})

	var transport ingesttransport.Transport
	switch cfg.Ingest.Transport {
	case "amqp":
		transport, err = ingesttransport.NewAMQPTransport(cfg.Ingest.AMQPURL, cfg.Ingest.QueueName, logger)
	case "redis":
		transport, err = ingesttransport.NewRedisTransport(cfg.Ingest.RedisURL, "", 0, cfg.Ingest.QueueName, logger)
	}
	if err != nil {
		logger.Fatal("failed to initialize ingest transport", zap.Error(err))
	}

	var autoFlusher *apollo.AutoFlusher
	if cfg.AutoFlush.Enabled {
		autoFlusher = apollo.NewAutoFlusher(facade, cfg.AutoFlush.Threshold, cfg.AutoFlush.Interval, logger)
	}

	s := &server{logger: logger, cfg: cfg, facade: facade, metrics: metrics, transport: transport, autoFlusher: autoFlusher}
	if err := s.run(); err != nil {
		logger.Fatal("apollod exited with error", zap.Error(err))
	}
}

func (s *server) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.startHTTPServer(ctx); err != nil {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()

	if s.transport != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.transport.Run(ctx); err != nil {
				s.logger.Error("ingest transport failed", zap.Error(err))
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.drainIngest(ctx)
		}()
	}

	if s.autoFlusher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.autoFlusher.Run(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	s.logger.Info("shutdown signal received, stopping")
	cancel()

	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("error closing ingest transport", zap.Error(err))
		}
	}
	if err := s.facade.Close(); err != nil {
		s.logger.Warn("error closing facade external handles", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("shutdown complete")
	case <-time.After(30 * time.Second):
		s.logger.Warn("shutdown timeout exceeded, forcing exit")
	}
	return nil
}

// drainIngest reads packages off the transport's channel and dispatches
// them to the facade — deliberately never called from inside the
// transport's own delivery goroutine, per §9.
func (s *server) drainIngest(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkg, ok := <-s.transport.Packages():
			if !ok {
				return
			}
			if _, err := s.facade.AttachModel(ctx, pkg); err != nil {
				s.logger.Warn("failed to dispatch model package", zap.Error(err))
			}
		}
	}
}

func (s *server) startHTTPServer(ctx context.Context) error {
	addr := s.cfg.App.HTTPAddress
	s.logger.Info("starting http server", zap.String("address", addr))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/attach-model", s.handleAttachModel)
	mux.HandleFunc("/flush", s.handleFlush)

	s.httpSrv = &http.Server{Addr: addr, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("http server error: %w", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":%q,"version":%q,"regions":%d}`,
		serviceName, serviceVersion, len(s.facade.RegionNames()))
}

func (s *server) handleAttachModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading body: %v", err), http.StatusBadRequest)
		return
	}
	results, err := s.facade.AttachModel(r.Context(), body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func (s *server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	global, err := s.facade.FlushAllRegionMeasurements(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(global)
}
