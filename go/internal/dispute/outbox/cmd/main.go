package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/pregao/go/internal/config"
	"github.com/mcdev12/pregao/go/internal/dispute/outbox"
	"github.com/mcdev12/pregao/go/internal/dispute/repository"
)

func main() {
	cfg := config.MustLoad()
	cfg.SetupLogger()

	// signal‐aware context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.Database.DSN()
	if err := repository.Migrate(dsn); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	pool, err := repository.NewPool(ctx, dsn, cfg.Database.MaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("connected to database")

	publisher, broker, closePublisher := newPublisher(ctx, cfg.Broker)
	defer closePublisher()

	metrics := outbox.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	store := outbox.NewRepository(pool)
	relay := outbox.NewRelay(store, outbox.NewMetricPublisher(publisher, metrics), outbox.RelayConfig{
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
		RetryDelay: cfg.Outbox.RetryDelay,
	}, outbox.WithRelayMetrics(metrics))

	listener, err := outbox.NewListener(relay, outbox.ListenerConfig{
		DatabaseURL:      dsn,
		NotifyChannel:    cfg.Outbox.NotifyChannel,
		FallbackInterval: cfg.Outbox.FallbackInterval,
		PingInterval:     cfg.Outbox.PingInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	mux := http.NewServeMux()
	mux.Handle("/health", outbox.NewHealthChecker(relay, store, listener, broker, 5*cfg.Outbox.FallbackInterval))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Outbox.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("broker", cfg.Broker.Kind).Msg("starting outbox relay")
		return listener.Start(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("relay health endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("outbox relay exited with error")
		return
	}
	log.Info().Msg("graceful shutdown complete")
}

func newPublisher(ctx context.Context, cfg config.Broker) (outbox.Publisher, outbox.Connectivity, func()) {
	switch cfg.Kind {
	case "kafka":
		p := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		return p, nil, func() {
			if err := p.Close(); err != nil {
				log.Error().Err(err).Msg("close kafka publisher")
			}
		}
	case "nats":
		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATSURL
		jsCfg.StreamName = cfg.StreamName
		jsCfg.SubjectPrefix = cfg.SubjectPrefix
		jsCfg.DuplicateWindow = cfg.DuplicateWindow
		p, err := outbox.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create JetStream publisher")
		}
		return p, p, func() {
			if err := p.Close(); err != nil {
				log.Error().Err(err).Msg("close publisher")
			}
		}
	default:
		return outbox.LogPublisher{}, nil, func() {}
	}
}
