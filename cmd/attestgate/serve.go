package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/api"
	"github.com/Mindburn-Labs/attestgate/pkg/artifacts"
	"github.com/Mindburn-Labs/attestgate/pkg/config"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
	"github.com/Mindburn-Labs/attestgate/pkg/limiter"
	"github.com/Mindburn-Labs/attestgate/pkg/observability"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
	"github.com/Mindburn-Labs/attestgate/pkg/relay"
	"github.com/Mindburn-Labs/attestgate/pkg/signing"
	"github.com/Mindburn-Labs/attestgate/pkg/store"
	"github.com/Mindburn-Labs/attestgate/pkg/versioning"
)

// server is the wired HTTP surface plus everything that must be released on
// shutdown.
type server struct {
	handler http.Handler
	ledger  *store.Ledger
	obs     *observability.Provider
	global  *api.GlobalRateLimiter
	idem    *store.IdempotencyStore
	closers []func() error
}

func (s *server) background(ctx context.Context) {
	go s.global.Cleanup(ctx)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.idem.Cleanup(ctx); err != nil {
					slog.WarnContext(ctx, "idempotency cleanup failed", "error", err)
				}
			}
		}
	}()
}

func (s *server) Close(ctx context.Context) {
	if s.obs != nil {
		if err := s.obs.Shutdown(ctx); err != nil {
			slog.WarnContext(ctx, "observability shutdown failed", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.WarnContext(ctx, "close failed", "error", err)
		}
	}
}

//nolint:gocognit
func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	s := &server{}
	fail := func(err error) (*server, error) {
		s.Close(context.Background())
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.ServiceVersion = versioning.SDKVersion
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fail(fmt.Errorf("observability: %w", err))
	}
	s.obs = obs

	ledger, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("ledger: %w", err))
	}
	s.ledger = ledger
	s.closers = append(s.closers, ledger.Close)
	slog.InfoContext(ctx, "ledger ready", "dialect", ledger.Dialect())

	artStore, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		return fail(fmt.Errorf("artifact store: %w", err))
	}
	archiveKey, err := loadOrGenerateArchiveKey(cfg.DataDir)
	if err != nil {
		return fail(fmt.Errorf("archive key: %w", err))
	}
	archiveVerifier, err := crypto.NewEd25519Verifier(archiveKey.PublicKeyBytes())
	if err != nil {
		return fail(err)
	}
	ledger.WithArchive(artifacts.NewArchive(artStore, archiveKey, archiveVerifier, "attestgate"))

	var signer api.SignService
	svc, err := signing.NewService(cfg.AppID, cfg.AppSecret,
		signing.WithMaxRequestAge(cfg.MaxRequestAge),
		signing.WithIssuanceLog(ledger),
	)
	if err != nil {
		// POST /sign answers 500 until APP_ID and APP_SECRET are set.
		slog.ErrorContext(ctx, "signer disabled", "error", err)
	} else {
		signer = svc
		slog.InfoContext(ctx, "signer ready", "app_id", svc.AppID(), "public_key", svc.PublicKey())
	}

	var limitStore limiter.Store
	checks := map[string]api.HealthCheck{"ledger": ledger.Ping}
	if cfg.RedisAddr != "" {
		rs := limiter.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, 0)
		s.closers = append(s.closers, rs.Close)
		checks["redis"] = rs.Ping
		limitStore = rs
	} else {
		limitStore = limiter.NewInMemoryStore()
	}

	mux := http.NewServeMux()
	api.NewSignHandler(signer,
		api.WithLimiter(limitStore, limiter.Policy{RPM: cfg.SignRPM, Burst: max(cfg.SignRPM/6, 1)}),
		api.WithTracker(obs),
	).Register(mux)

	providers := []relay.Provider{relay.NewBinanceProvider()}
	if cfg.GoogleConfigured() {
		providers = append(providers, relay.NewGoogleProvider(
			relay.GoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.PublicOrigin),
			&http.Client{Timeout: 10 * time.Second},
		))
	} else {
		slog.WarnContext(ctx, "google relay disabled: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set")
	}
	relayHandler := relay.NewHandler(cfg.PublicOrigin, providers...).WithRecorder(ledger).WithTracker(obs)
	relayHandler.Register(mux)

	constraint := cfg.ExtensionConstraint
	if constraint == "" {
		constraint = versioning.DefaultExtensionConstraint
	}
	gate, err := versioning.NewGate(constraint)
	if err != nil {
		return fail(fmt.Errorf("extension constraint: %w", err))
	}

	if cfg.TemplatesFile != "" {
		catalog, err := config.LoadCatalog(cfg.TemplatesFile)
		if err != nil {
			return fail(err)
		}
		if _, err := policy.NewEngine(catalog.Policies()); err != nil {
			return fail(fmt.Errorf("templates: %w", err))
		}
		mux.HandleFunc("GET /templates", func(w http.ResponseWriter, _ *http.Request) {
			api.WriteJSON(w, http.StatusOK, map[string]any{
				"templates": catalog.Templates,
				"extension": map[string]string{"id": cfg.ExtensionID, "versionConstraint": gate.String()},
			})
		})
		slog.InfoContext(ctx, "template catalog loaded", "templates", len(catalog.Templates))
	}

	mux.Handle("GET /health", &api.HealthHandler{Version: versioning.SDKVersion, Checks: checks})

	s.global = api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	s.idem = ledger.Idempotency(cfg.IdempotencyTTL)
	s.handler = api.Chain(mux,
		api.RequestIDMiddleware,
		api.CORSMiddleware(cfg.CORSOrigins),
		s.global.Middleware,
		api.IdempotencyMiddleware(s.idem),
	)
	return s, nil
}

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	port := cmd.String("port", "", "Listen port (overrides PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LiteMode() {
		slog.InfoContext(ctx, "DATABASE_URL not set, running in lite mode", "data_dir", cfg.DataDir)
	}

	srv, err := newServer(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer srv.Close(context.Background())
	srv.background(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", "addr", httpServer.Addr, "origin", cfg.PublicOrigin)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "server error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintf(stderr, "shutdown error: %v\n", err)
			return 1
		}
	}
	return 0
}
