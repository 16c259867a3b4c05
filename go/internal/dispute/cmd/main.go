package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/pregao/go/internal/config"
	"github.com/mcdev12/pregao/go/internal/dispute/api"
	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/gateway"
	"github.com/mcdev12/pregao/go/internal/dispute/orchestrator"
	"github.com/mcdev12/pregao/go/internal/dispute/outbox"
	"github.com/mcdev12/pregao/go/internal/dispute/repository"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/identity"
	"github.com/mcdev12/pregao/go/internal/metrics"
)

func main() {
	tenderFile := flag.String("tender", "", "YAML tender fixture to load on startup")
	issueToken := flag.String("issue-token", "", "print a bearer token for the given user id and exit")
	flag.Parse()

	cfg := config.MustLoad()
	cfg.SetupLogger()

	tokens := identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, nil)
	if *issueToken != "" {
		token, err := tokens.Issue(*issueToken)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		fmt.Println(token)
		return
	}

	policy, err := cfg.Dispute.Policy()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dispute policy")
	}

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

	repo := repository.NewRepository(pool)
	authorizer := repository.NewAuthorizer(pool)
	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	gwConfig := gateway.DefaultConnectionConfig()
	gwConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	gwConfig.Connections = engineMetrics.GatewayConnections
	connections := gateway.NewConnectionManager(gwConfig)

	emitter := events.Multi{
		outbox.NewEmitter(outbox.NewRepository(pool)),
		connections,
	}
	coordinator := session.NewCoordinator(repo, authorizer, emitter,
		session.WithPolicy(policy),
		session.WithMetrics(engineMetrics.Session()),
		session.WithQueueSize(cfg.Dispute.DispatchQueueSize),
	)

	if err := restoreSessions(ctx, repo, coordinator); err != nil {
		log.Fatal().Err(err).Msg("restore sessions")
	}
	if *tenderFile != "" {
		if err := loadFixture(ctx, *tenderFile, authorizer, coordinator); err != nil {
			log.Fatal().Err(err).Str("file", *tenderFile).Msg("load tender fixture")
		}
	}

	scheduler := orchestrator.NewScheduler(coordinator, cfg.Dispute.SchedulerWorkers,
		orchestrator.WithInterval(cfg.Dispute.TickInterval),
		orchestrator.WithMetrics(engineMetrics.Scheduler()),
	)

	srv := setupServer(cfg.HTTP, coordinator, tokens, connections)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		connections.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("dispute server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("dispute server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("graceful shutdown complete")
}

func setupServer(cfg config.HTTP, coordinator *session.Coordinator, tokens *identity.Tokens, connections *gateway.ConnectionManager) *http.Server {
	mux := http.NewServeMux()

	api.NewHandler(coordinator, tokens).RegisterRoutes(mux)
	gateway.NewWebSocketHandler(connections, tokens, coordinator).RegisterRoutes(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// restoreSessions reloads every stored session so running lots resume their
// countdowns after a restart.
func restoreSessions(ctx context.Context, repo *repository.Repository, coordinator *session.Coordinator) error {
	tenders, err := repo.ListTenders(ctx)
	if err != nil {
		return err
	}
	for _, tenderID := range tenders {
		if _, err := coordinator.Restore(ctx, tenderID); err != nil {
			return fmt.Errorf("restore tender %s: %w", tenderID, err)
		}
	}
	log.Info().Int("sessions", len(tenders)).Msg("restored dispute sessions")
	return nil
}
