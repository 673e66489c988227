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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"strata/api/grpcserver"
	"strata/config"
	"strata/domain/model"
	"strata/infra/checkpoint"
	"strata/infra/kafka"
	"strata/infra/memory"
	"strata/infra/wal"
	"strata/jobs/broadcaster"
	"strata/service"
)

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	// ---------------- Memory ----------------

	alloc, err := memory.New(memory.Config{
		MaxBytes:   cfg.Memory.MaxBytes,
		RegionSize: cfg.Memory.RegionSize,
	})
	if err != nil {
		return fmt.Errorf("allocator: %w", err)
	}
	defer func() {
		// the store still holds samples at exit; the mapping goes with the process
		if err := alloc.Close(); err != nil {
			log.Debug().Err(err).Msg("allocator left mapped")
		}
	}()

	// ---------------- Metrics ----------------

	mp, metricsHandler, err := initMetrics(alloc)
	if err != nil {
		return err
	}
	defer mp.Shutdown(context.Background())

	// ---------------- Model ----------------

	store := model.NewStore(model.WithLogger(log), model.WithAllocator(alloc))
	opts := []service.Option{service.WithLogger(log)}

	if cfg.Journal.Enabled {
		journal, err := wal.Open(wal.Config{
			Dir:         cfg.Journal.Dir,
			SegmentSize: cfg.Journal.SegmentSize,
			Sync:        cfg.Journal.Sync,
		})
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer journal.Close()
		opts = append(opts, service.WithJournal(journal))
	}
	if cfg.Checkpoint.Enabled {
		ckpt, err := checkpoint.Open(cfg.Checkpoint.Dir)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		defer ckpt.Close()
		opts = append(opts, service.WithCheckpoint(ckpt))
	}
	svc := service.NewModelService(store, opts...)

	// ---------------- Recovery ----------------

	if _, err := svc.Recover(ctx); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := declareNodes(ctx, svc, cfg.Nodes, alloc); err != nil {
		return err
	}

	// ---------------- Notifications ----------------

	disp := model.NewDispatcher("notify", cfg.Store.Mailbox, log)
	defer disp.Close()

	sink, err := newSink(cfg.Broadcast, log)
	if err != nil {
		return err
	}
	bc := broadcaster.New(sink, disp, broadcaster.Config{
		Interval: cfg.Broadcast.Interval,
		Capacity: cfg.Broadcast.Capacity,
	}, log)
	defer bc.Close()
	if err := watchPaths(store, bc, cfg.Broadcast.Paths); err != nil {
		return err
	}

	// ---------------- Jobs ----------------

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(ctx) })
	g.Go(func() error { return bc.Run(ctx) })
	if cfg.Checkpoint.Enabled {
		g.Go(func() error { return svc.RunCheckpoints(ctx, cfg.Checkpoint.Interval) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}
	grpcSrv := grpc.NewServer(grpcserver.ServerOptions(log)...)
	grpcserver.RegisterModelServer(grpcSrv, grpcserver.NewServer(svc, log))
	g.Go(func() error { return grpcSrv.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		})
	}

	log.Info().
		Str("grpc", cfg.GRPC.Addr).
		Str("metrics", cfg.Metrics.Addr).
		Str("broadcast", cfg.Broadcast.Driver).
		Msg("strata running")

	err = g.Wait()
	log.Info().Err(err).Msg("strata stopped")
	return err
}

func newLogger(cfg config.Log) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log.level: %w", err)
	}
	var log zerolog.Logger
	if cfg.Format == "json" {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

// initMetrics installs the OTel meter provider behind a Prometheus exporter
// and registers the allocator collector next to it.
func initMetrics(alloc memory.Allocator) (*sdkmetric.MeterProvider, http.Handler, error) {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	if err := reg.Register(memory.NewCollector(alloc)); err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)
	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func newSink(cfg config.Broadcast, log zerolog.Logger) (kafka.Sink, error) {
	switch cfg.Driver {
	case "kafka-go":
		return kafka.NewProducer(cfg.Brokers, cfg.Topic, log), nil
	case "sarama":
		p, err := kafka.NewSaramaProducer(cfg.Brokers, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("sarama: %w", err)
		}
		return p, nil
	}
	return kafka.NewLogSink(log.With().Str("sink", "log").Logger()), nil
}

func declareNodes(ctx context.Context, svc *service.ModelService, nodes []config.Node, alloc memory.Allocator) error {
	for _, n := range nodes {
		v, err := service.ParseValue(n.Kind, n.Initial, alloc)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.Path, err)
		}
		if _, err := svc.Declare(ctx, n.Path, v); err != nil {
			return fmt.Errorf("node %s: %w", n.Path, err)
		}
	}
	return nil
}

// watchPaths forwards every node under each path that exists at startup.
func watchPaths(store *model.Store, bc *broadcaster.Broadcaster, paths []string) error {
	for _, p := range paths {
		n, err := store.Lookup(p)
		if err != nil {
			return fmt.Errorf("broadcast path: %w", err)
		}
		err = model.NewSnapshot(n).Walk(func(_ string, n model.Noder) error {
			bc.Watch(n)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
