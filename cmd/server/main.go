package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/config"
	"schooldesk/auth-identity/internal/crypto"
	"schooldesk/auth-identity/internal/db"
	internalgrpc "schooldesk/auth-identity/internal/grpc"
	internalhttp "schooldesk/auth-identity/internal/http"
	"schooldesk/auth-identity/internal/logging"
	"schooldesk/auth-identity/internal/metrics"
	"schooldesk/auth-identity/internal/ratelimit"
	"schooldesk/auth-identity/internal/repository"
	"schooldesk/auth-identity/internal/service"
	"schooldesk/auth-identity/internal/telemetry"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    "auth-identity",
		ServiceVersion: version,
	}, log)
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(pool); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		log.Info("migrations applied")
	}

	tokens, err := auth.NewTokens(auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}, clock.WallClock)
	if err != nil {
		log.Fatalf("token setup failed: %v", err)
	}

	m := metrics.New()
	svc := service.NewAuthService(service.Options{
		Store:    repository.NewStore(pool),
		Hasher:   crypto.NewHasher(cfg.BcryptCost),
		Tokens:   tokens,
		Clock:    clock.WallClock,
		Logger:   log,
		Recorder: m,
	})

	limiter, stopLimiter := newLimiter(ctx, cfg, log)
	defer stopLimiter()

	server := internalhttp.NewServer(internalhttp.Options{
		Accounts:       svc,
		Limiter:        limiter,
		Metrics:        m,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("auth-identity listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stopGRPC := startGRPC(cfg, svc, log)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	stopGRPC()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Errorf("tracing shutdown error: %v", err)
	}
}

// newLimiter prefers Redis so replicas share windows and falls back to
// process memory when Redis is not configured or unreachable.
func newLimiter(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (ratelimit.Limiter, func()) {
	limitCfg := ratelimit.Config{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			log.WithField("addr", cfg.RedisAddr).Info("rate limiter using redis")
			return ratelimit.NewRedisLimiter(client, limitCfg, "auth-identity:ratelimit:", clock.WallClock), func() {
				_ = client.Close()
			}
		}
		log.WithError(err).Warn("redis unavailable, rate limiter using memory")
		_ = client.Close()
	}

	limiter := ratelimit.NewMemoryLimiter(limitCfg, clock.WallClock)
	stop, err := limiter.StartSweeper()
	if err != nil {
		log.WithError(err).Warn("rate limiter sweep disabled")
		stop = func() {}
	}
	return limiter, stop
}

func startGRPC(cfg config.Config, svc *service.AuthService, log logrus.FieldLogger) func() {
	if cfg.GRPCAddr == "" || cfg.ServiceAuthToken == "" {
		log.Info("grpc disabled")
		return func() {}
	}
	server, err := internalgrpc.NewServer(svc, cfg.ServiceAuthToken, log)
	if err != nil {
		log.Fatalf("grpc setup failed: %v", err)
	}
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen failed: %v", err)
	}
	go func() {
		log.Infof("grpc listening on %s", cfg.GRPCAddr)
		if err := server.Serve(listener); err != nil {
			log.Errorf("grpc server error: %v", err)
		}
	}()
	return server.GracefulStop
}
