package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/placelists/placelists/internal/actions"
	"github.com/placelists/placelists/internal/audit"
	"github.com/placelists/placelists/internal/auth"
	"github.com/placelists/placelists/internal/identity/gotrue"
	"github.com/placelists/placelists/internal/identity/local"
	"github.com/placelists/placelists/internal/platform/config"
	"github.com/placelists/placelists/internal/platform/database"
	"github.com/placelists/placelists/internal/platform/metrics"
	"github.com/placelists/placelists/internal/platform/redis"
	"github.com/placelists/placelists/internal/platform/server"
	"github.com/placelists/placelists/internal/platform/telemetry"
)

const minSigningKeyLength = 32

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("placelists starting",
		"port", cfg.Server.Port,
		"auth_provider", cfg.Auth.Provider,
		"flow_type", cfg.Auth.FlowType,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		pool, err = database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
	}

	rdb, err := redis.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Audit events live next to the local accounts; the hosted service
	// keeps its own audit log.
	var auditLog audit.Logger = audit.NopLogger{}
	if pool != nil && cfg.Auth.Provider == "local" {
		auditLog = audit.NewAsyncLogger(pool, audit.NewStore(), audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: time.Duration(cfg.Audit.FlushInterval) * time.Millisecond,
			Logger:        logger,
		})
		defer auditLog.Close()
		slog.Info("audit logger started")
	}

	provider, err := buildProvider(ctx, cfg.Auth, pool, rdb, logger, auditLog)
	if err != nil {
		return err
	}

	flow, err := flowType(cfg.Auth.FlowType)
	if err != nil {
		return err
	}

	cookies := auth.CookieOptions{
		Name:   cfg.Auth.Cookie.Name,
		Domain: cfg.Auth.Cookie.Domain,
		Secure: cfg.Auth.Cookie.Secure,
		MaxAge: time.Duration(cfg.Auth.Cookie.MaxAgeSecs) * time.Second,
	}
	routes := routeConfig(cfg.Auth.Routes)

	svc := auth.NewService(auth.ServiceConfig{
		Provider: provider,
		Logger:   logger,
		Metrics:  m,
		SiteURL:  cfg.Server.SiteURL,
		FlowType: flow,
	})
	gatekeeper := auth.NewGatekeeper(auth.GatekeeperConfig{
		Sessions:         svc,
		Routes:           routes,
		Cookies:          cookies,
		RefreshThreshold: cfg.Auth.RefreshThreshold(),
		Logger:           logger,
		Metrics:          m,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		Redis:              rdb,
		AuthHandler:        auth.NewHandler(svc, cookies),
		ActionsHandler:     actions.NewHandler(actions.New(svc), cookies),
		Gatekeeper:         gatekeeper,
		Pages:              pagesHandler(routes),
		Metrics:            m,
		MetricsPath:        cfg.Metrics.Path,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	})

	slog.Info("server ready", "addr", addr)
	return srv.Start(ctx)
}

// buildProvider selects the identity backend. The local provider keeps its
// accounts in Postgres and its emailed tokens in Redis when those are
// configured, and in memory otherwise.
func buildProvider(ctx context.Context, cfg config.AuthConfig, pool *database.Pool, rdb *redis.Client, logger *slog.Logger, auditLog audit.Logger) (auth.Provider, error) {
	switch cfg.Provider {
	case "gotrue":
		if cfg.GoTrue.URL == "" || cfg.GoTrue.APIKey == "" {
			return nil, errors.New("auth.gotrue.url and auth.gotrue.apikey are required for the gotrue provider")
		}
		return gotrue.NewClient(cfg.GoTrue.URL, cfg.GoTrue.APIKey), nil

	case "local":
		jwtCfg := cfg.Local.JWT
		if len(jwtCfg.SigningKey) < minSigningKeyLength {
			return nil, fmt.Errorf("auth.local.jwt.signingkey must be at least %d characters", minSigningKeyLength)
		}

		var store local.Store = local.NewMemoryStore()
		if pool != nil {
			pg := local.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations complete")
			store = pg
		} else {
			slog.Warn("no database configured, local accounts are kept in memory")
		}

		var tokens local.OneTimeTokens = local.NewMemoryTokens(nil)
		if rdb != nil {
			tokens = local.NewRedisTokens(rdb.Client, nil)
		}

		return local.NewProvider(local.Config{
			Store:                    store,
			Tokens:                   tokens,
			Issuer:                   local.NewTokenIssuer(jwtCfg.SigningKey, jwtCfg.Issuer, time.Duration(jwtCfg.AccessTTLSecs)*time.Second, nil),
			Mailer:                   local.NewWriterMailer(os.Stdout),
			Logger:                   logger,
			Audit:                    auditLog,
			RefreshTTL:               time.Duration(jwtCfg.RefreshTTLSecs) * time.Second,
			OTPTTL:                   time.Duration(cfg.Local.OTPTTLSecs) * time.Second,
			RequireEmailConfirmation: cfg.Local.RequireEmailConfirmation,
		})

	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Provider)
	}
}

func flowType(s string) (auth.FlowType, error) {
	switch t := auth.FlowType(s); t {
	case "", auth.FlowOTP:
		return auth.FlowOTP, nil
	case auth.FlowPKCE:
		return t, nil
	}
	return "", fmt.Errorf("unknown auth flow type %q", s)
}

// routeConfig overlays configured route lists on the defaults.
func routeConfig(cfg config.RoutesConfig) auth.RouteConfig {
	routes := auth.DefaultRoutes()
	if len(cfg.Protected) > 0 {
		routes.Protected = cfg.Protected
	}
	if len(cfg.Public) > 0 {
		routes.Public = cfg.Public
	}
	if len(cfg.Excluded) > 0 {
		routes.Excluded = cfg.Excluded
	}
	return routes
}
