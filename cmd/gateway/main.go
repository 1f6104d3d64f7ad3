// Command gateway is the odoo-mcp-gateway single-binary entry point: it
// loads configuration, wires every internal component per DESIGN.md's
// dependency order, and runs the configured transport until signaled to
// stop.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/cache"
	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/dispatcher"
	"odoo-mcp-gateway/internal/logger"
	"odoo-mcp-gateway/internal/metrics"
	"odoo-mcp-gateway/internal/odoorpc"
	"odoo-mcp-gateway/internal/pool"
	"odoo-mcp-gateway/internal/ratelimit"
	"odoo-mcp-gateway/internal/security"
	"odoo-mcp-gateway/internal/session"
	"odoo-mcp-gateway/internal/subscription"
	"odoo-mcp-gateway/internal/telemetry"
	"odoo-mcp-gateway/internal/transport"
)

func main() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		logger.InitWithConfig(logger.Config{Level: "error", Format: "json", Handlers: []string{"stderr"}})
		logger.Fatal("failed to load configuration", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.InitWithConfig(logger.Config{Level: "error", Format: "json", Handlers: []string{"stderr"}})
		logger.Fatal("invalid configuration", "error", err)
	}

	// stdio is the one mode where stdout is reserved for the JSON-RPC
	// wire protocol; every other mode is free to log to stdout.
	handlers := cfg.Log.Handlers
	if cfg.Transport.Mode == "stdio" {
		handlers = []string{"stderr"}
	}
	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Handlers:   handlers,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	logger.Info("starting odoo-mcp-gateway", "version", cfg.App.Version, "environment", cfg.App.Environment, "transport", cfg.Transport.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", "error", err)
	}
	defer tracing.Shutdown(context.Background())

	var gatewayMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		gatewayMetrics = metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
		gatewayMetrics.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	}

	connPool := pool.New(odoorpc.Config{
		URL:      cfg.Odoo.URL,
		Database: cfg.Odoo.Database,
		Username: cfg.Odoo.Username,
		APIKey:   cfg.Odoo.APIKey,
		Protocol: cfg.Odoo.Protocol,
		Timeout:  cfg.Odoo.Timeout,
	}, cfg.Pool)
	connPool.Start()
	defer connPool.Stop()

	if _, release, err := connPool.Acquire(ctx); err != nil {
		logger.Warn("startup warm-up connection failed; the pool will keep retrying lazily", "error", err)
	} else {
		release(true)
	}

	sessions := session.NewStore(cfg.SessionTTL(), poolAuthenticator(connPool, cfg.Odoo.Database))
	sessions.Start(cfg.Session.CleanupInterval)
	defer sessions.Stop()

	limiter, err := ratelimit.New(&ratelimit.Config{
		Requests:        cfg.RateLimit.RequestsPerMinute,
		Window:          time.Minute,
		Strategy:        "token_bucket",
		Backend:         cfg.RateLimit.Backend,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
		RedisAddr:       cfg.RateLimit.RedisAddr,
	})
	if err != nil {
		logger.Fatal("failed to initialize rate limiter", "error", err)
	}
	defer limiter.Close()

	resultCache, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Fatal("failed to initialize cache", "error", err)
	}
	defer resultCache.Close()

	auditLogger, err := audit.New(&audit.Config{
		Enabled:     cfg.Audit.Enabled,
		Backend:     cfg.Audit.Backend,
		FilePath:    cfg.Audit.FilePath,
		BufferSize:  cfg.Audit.BufferSize,
		FlushPeriod: cfg.Audit.FlushPeriod,
	})
	if err != nil {
		logger.Fatal("failed to initialize audit logger", "error", err)
	}
	defer auditLogger.Close()

	domains := security.NewImplicitDomainPolicy(cfg.Security.ImplicitDomains, dispatcher.FieldsGetter(connPool))
	pii := security.NewPIIDetector(cfg.Security.PIIMasking, nil)

	bus := subscription.NewBus(cfg.Transport.SSEQueueSize)

	d := dispatcher.New(dispatcher.Deps{
		Config:        cfg,
		Pool:          connPool,
		Sessions:      sessions,
		Limiter:       limiter,
		Cache:         resultCache,
		Domains:       domains,
		PII:           pii,
		Audit:         auditLogger,
		Metrics:       gatewayMetrics,
		Bus:           bus,
		ServerName:    cfg.App.Name,
		ServerVersion: cfg.App.Version,
	})

	srv := transport.New(cfg.Transport, d, gatewayMetrics)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("transport exited with error", "error", err)
	}

	logger.Info("odoo-mcp-gateway stopped")
}

// poolAuthenticator adapts the connection pool into the narrow
// session.Acquirer capability: borrow a connection, authenticate with
// the caller-supplied credentials, release it. The uid placed on the
// wire for subsequent execute_kw calls still comes from the pool's own
// configured credentials, per the Open Question decision in DESIGN.md —
// this Acquirer only validates that (username, secret) resolves to a
// real Odoo user before minting a session.
func poolAuthenticator(p *pool.Pool, db string) session.Acquirer {
	return func(ctx context.Context, username, secret string) (int64, error) {
		conn, release, err := p.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		defer func() { release(err == nil) }()

		result, authErr := conn.Handler().Call(ctx, "common", "authenticate", odoorpc.Args{db, username, secret, map[string]any{}})
		if authErr != nil {
			err = authErr
			return 0, authErr
		}
		var uid int64
		switch v := result.(type) {
		case int64:
			uid = v
		case int:
			uid = int64(v)
		case float64:
			uid = int64(v)
		}
		if uid == 0 {
			return 0, apperror.New(apperror.KindAuth, "odoo rejected credentials")
		}
		return uid, nil
	}
}
