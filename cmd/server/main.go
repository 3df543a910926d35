// Command credgate-server starts the credential verification service.
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

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/config"
	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/crypto/credcodec"
	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/limiter"
	"github.com/and161185/credgate/internal/mfa"
	"github.com/and161185/credgate/internal/migrate"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"github.com/and161185/credgate/internal/repository/memory"
	"github.com/and161185/credgate/internal/repository/postgres"
	"github.com/and161185/credgate/internal/repository/sqlite"
	grpcserver "github.com/and161185/credgate/internal/server/grpc"
	httpserver "github.com/and161185/credgate/internal/server/http"
	"github.com/and161185/credgate/internal/service"
	"github.com/and161185/credgate/internal/strategy"
	"github.com/and161185/credgate/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, wires the backends and serves HTTP (and gRPC health) until signalled.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
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
		zap.String("store", cfg.Store),
		zap.String("tracker", cfg.Tracker),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

type app struct {
	users   repository.UserRepository
	tracker limiter.Tracker
	checks  map[string]grpcserver.Check
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	aud := audit.New(logger)
	a := &app{checks: map[string]grpcserver.Check{}}
	defer a.close()

	if err := openStores(ctx, cfg, a, aud, logger); err != nil {
		return err
	}
	if err := bootstrapUser(ctx, cfg, a.users, logger); err != nil {
		return err
	}

	codec, err := loadCodec(cfg)
	if err != nil {
		return err
	}
	tokens, err := token.New(token.Config{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	// Validate already parsed these.
	digest, _ := service.ParseDigestMode(cfg.DigestMode)
	direction, _ := service.ParseMigrationDirection(cfg.Migration)
	passwords := service.NewPasswordVerifier(a.users, service.PasswordPolicy{
		Digest: digest, Direction: direction, Cost: cfg.BcryptCost,
	}, aud, logger.Named("password"))
	local := service.NewLocalAuth(a.users, passwords, a.tracker, logger.Named("local"))

	deps := strategy.Deps{Codec: codec, Tokens: tokens, Tracker: a.tracker, Audit: aud, Log: logger}
	if cfg.MFA {
		deps.MFA = mfa.NewTOTP(mfa.FromUsers(a.users))
	}

	var signer *delegation.Signer
	if cfg.DelegationSecret != "" {
		if signer, err = delegation.NewSigner([]byte(cfg.DelegationSecret), cfg.DelegationWindow); err != nil {
			return err
		}
	}

	strategies, err := buildStrategies(cfg, deps, local, passwords, signer, a.users, logger)
	if err != nil {
		return err
	}
	router, err := strategy.NewRouter(aud, strategies...)
	if err != nil {
		return err
	}

	hcfg := httpserver.Config{
		Router: router, Keys: codec, Tokens: tokens, Users: a.users,
		RateLimit: rate.Limit(cfg.RateLimit), Burst: cfg.RateBurst, TrustProxy: cfg.TrustProxy,
		Audit: aud, Log: logger.Named("http"),
	}
	if cfg.ServeDelegation {
		hcfg.Signer, hcfg.PeerAuth, hcfg.Directory = signer, local, service.NewDirectory(a.users)
	}
	hs, err := httpserver.New(hcfg)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr), zap.Bool("tls", cfg.TLS()),
			zap.Bool("delegation", hs.DelegationEnabled()))
		var err error
		if cfg.TLS() {
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var health *grpcserver.Server
	if cfg.GRPCAddr != "" {
		if health, err = startHealth(ctx, cfg, a.checks, logger, errCh); err != nil {
			return err
		}
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if health != nil {
		health.Shutdown(shutdownTimeout)
	}
	return srv.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg *config.Config, a *app, aud *audit.Logger, logger *zap.Logger) error {
	policy := limiter.Policy{Threshold: cfg.LockThreshold, LockFor: cfg.LockDuration, IdleFor: cfg.LockIdle}

	switch cfg.Store {
	case config.StorePostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		db, pool, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.checks["postgres"] = db.Ping
		a.users = postgres.NewUserRepo(db)
		if cfg.Tracker == config.TrackerPostgres {
			a.tracker = limiter.NewPG(pool, policy, aud)
		}
	case config.StoreSQLite:
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.checks["sqlite"] = repo.Ping
		a.users = repo
	default:
		logger.Warn("using in-memory user store; data is lost on restart")
		a.users = memory.NewUserRepo()
	}

	switch cfg.Tracker {
	case config.TrackerRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		a.tracker = limiter.NewRedis(rdb, policy, aud)
	case config.TrackerMemory:
		a.tracker = limiter.NewMemory(policy, aud)
	}
	return nil
}

func bootstrapUser(ctx context.Context, cfg *config.Config, users repository.UserRepository, logger *zap.Logger) error {
	if cfg.BootstrapUser == "" {
		return nil
	}
	_, err := users.GetByUsername(ctx, cfg.BootstrapUser)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup: %w", err)
	}
	rec, err := pkgcrypto.HashWithCost(model.PasswordV1, cfg.BootstrapPassword, cfg.BcryptCost)
	if err != nil {
		return err
	}
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: cfg.BootstrapUser,
		Enabled:  true,
		Roles:    []string{"admin", model.DefaultRole},
		Password: rec,
	}
	if err := users.Create(ctx, u); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return fmt.Errorf("bootstrap create: %w", err)
	}
	logger.Info("bootstrap user created", zap.String("user", u.Username))
	return nil
}

func loadCodec(cfg *config.Config) (*credcodec.Codec, error) {
	if cfg.RSAKeyFile == "" {
		kp, err := credcodec.GenerateKeyPair(credcodec.DefaultBits)
		if err != nil {
			return nil, err
		}
		return credcodec.New(kp), nil
	}
	data, err := os.ReadFile(cfg.RSAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read rsa key: %w", err)
	}
	kp, err := credcodec.ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}
	return credcodec.New(kp), nil
}

func buildStrategies(cfg *config.Config, deps strategy.Deps, local *service.LocalAuth, passwords *service.PasswordVerifier,
	signer *delegation.Signer, users repository.UserRepository, logger *zap.Logger) ([]strategy.Strategy, error) {
	var out []strategy.Strategy
	for _, k := range cfg.Kinds() {
		switch k {
		case strategy.KindDatabase:
			out = append(out, strategy.NewDatabase(local, deps))
		case strategy.KindFederation:
			c, err := delegation.NewClient(cfg.PeerURL, signer, cfg.DelegationTimeout, logger.Named("delegation"))
			if err != nil {
				return nil, err
			}
			out = append(out, strategy.NewFederation(c, deps))
		case strategy.KindLDAP:
			s, err := strategy.NewLDAP(strategy.DirectoryConfig{
				URL: cfg.LDAPURL, BaseDN: cfg.LDAPBaseDN, UserAttr: cfg.LDAPUserAttr, Timeout: cfg.DirectoryTimeout,
			}, users, deps)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case strategy.KindActiveDirectory:
			s, err := strategy.NewActiveDirectory(strategy.DirectoryConfig{
				URL: cfg.ADURL, Domain: cfg.ADDomain, Timeout: cfg.DirectoryTimeout,
			}, users, deps)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		case strategy.KindExternalAPI:
			s, err := strategy.NewExternalAPI(strategy.ExternalConfig{
				BaseURL: cfg.ExternalURL, APIKey: cfg.ExternalAPIKey, Timeout: cfg.ExternalTimeout,
			}, passwords, deps)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func startHealth(ctx context.Context, cfg *config.Config, checks map[string]grpcserver.Check, logger *zap.Logger, errCh chan<- error) (*grpcserver.Server, error) {
	opts := grpcserver.Options{Reflection: cfg.Dev}
	if cfg.TLS() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS cert/key: %w", err)
		}
		opts.Creds = creds
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	hs := grpcserver.New(logger.Named("grpc"), opts)
	go hs.Watch(ctx, 10*time.Second, checks)
	go func() {
		logger.Info("listening (grpc health)", zap.String("addr", cfg.GRPCAddr))
		if err := hs.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return hs, nil
}
