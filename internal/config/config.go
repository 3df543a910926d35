// Package config loads server settings from CREDGATE_* environment variables,
// with command-line flags overriding the common switches.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/service"
	"github.com/and161185/credgate/internal/strategy"
	"github.com/and161185/credgate/internal/token"
	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Tracker backends.
const (
	TrackerMemory   = "memory"
	TrackerPostgres = "postgres"
	TrackerRedis    = "redis"
)

// Config is the full server configuration.
type Config struct {
	HTTPAddr   string `env:"CREDGATE_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr   string `env:"CREDGATE_GRPC_ADDR"` // empty disables the health endpoint
	TLSCert    string `env:"CREDGATE_TLS_CERT"`
	TLSKey     string `env:"CREDGATE_TLS_KEY"`
	Dev        bool   `env:"CREDGATE_DEV"`
	TrustProxy bool   `env:"CREDGATE_TRUST_PROXY"`

	Store      string `env:"CREDGATE_STORE"       envDefault:"memory"`
	DSN        string `env:"CREDGATE_DSN"`
	SQLitePath string `env:"CREDGATE_SQLITE_PATH" envDefault:"credgate.db"`

	Tracker       string        `env:"CREDGATE_TRACKER"        envDefault:"memory"`
	RedisAddr     string        `env:"CREDGATE_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string        `env:"CREDGATE_REDIS_PASSWORD"`
	LockThreshold int           `env:"CREDGATE_LOCK_THRESHOLD" envDefault:"5"`
	LockDuration  time.Duration `env:"CREDGATE_LOCK_DURATION"  envDefault:"15m"`
	LockIdle      time.Duration `env:"CREDGATE_LOCK_IDLE"      envDefault:"24h"`

	RSAKeyFile string        `env:"CREDGATE_RSA_KEY_FILE"` // empty generates a key at startup
	JWTSecret  string        `env:"CREDGATE_JWT_SECRET"`
	JWTIssuer  string        `env:"CREDGATE_JWT_ISSUER"  envDefault:"credgate"`
	AccessTTL  time.Duration `env:"CREDGATE_ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"CREDGATE_REFRESH_TTL" envDefault:"24h"`

	DigestMode string `env:"CREDGATE_DIGEST_MODE" envDefault:"client"`
	Migration  string `env:"CREDGATE_MIGRATION"   envDefault:"none"`
	BcryptCost int    `env:"CREDGATE_BCRYPT_COST" envDefault:"12"`
	MFA        bool   `env:"CREDGATE_MFA"`

	Strategies []string `env:"CREDGATE_STRATEGIES" envSeparator:"," envDefault:"database"`

	PeerURL           string        `env:"CREDGATE_PEER_URL"`
	DelegationSecret  string        `env:"CREDGATE_DELEGATION_SECRET"`
	DelegationWindow  time.Duration `env:"CREDGATE_DELEGATION_WINDOW"  envDefault:"300s"`
	DelegationTimeout time.Duration `env:"CREDGATE_DELEGATION_TIMEOUT" envDefault:"10s"`
	ServeDelegation   bool          `env:"CREDGATE_SERVE_DELEGATION"`

	LDAPURL          string        `env:"CREDGATE_LDAP_URL"`
	LDAPBaseDN       string        `env:"CREDGATE_LDAP_BASE_DN"`
	LDAPUserAttr     string        `env:"CREDGATE_LDAP_USER_ATTR" envDefault:"uid"`
	ADURL            string        `env:"CREDGATE_AD_URL"`
	ADDomain         string        `env:"CREDGATE_AD_DOMAIN"`
	DirectoryTimeout time.Duration `env:"CREDGATE_DIRECTORY_TIMEOUT" envDefault:"5s"`

	ExternalURL     string        `env:"CREDGATE_EXTERNAL_URL"`
	ExternalAPIKey  string        `env:"CREDGATE_EXTERNAL_API_KEY"`
	ExternalTimeout time.Duration `env:"CREDGATE_EXTERNAL_TIMEOUT" envDefault:"10s"`

	RateLimit float64 `env:"CREDGATE_RATE_LIMIT" envDefault:"5"`
	RateBurst int     `env:"CREDGATE_RATE_BURST" envDefault:"10"`

	// BootstrapUser is created with BootstrapPassword at startup when missing.
	BootstrapUser     string `env:"CREDGATE_BOOTSTRAP_USER"`
	BootstrapPassword string `env:"CREDGATE_BOOTSTRAP_PASSWORD"`

	kinds []strategy.Kind
}

// Load parses the environment, then args as flags, and validates the result.
func Load(args []string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("credgate-server", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "user store: memory|postgres|sqlite")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.Tracker, "tracker", cfg.Tracker, "lockout tracker: memory|postgres|redis")
	fs.StringVar(&cfg.JWTSecret, "jwt-key", cfg.JWTSecret, "HS256 signing key (required)")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	strategies := fs.String("strategies", strings.Join(cfg.Strategies, ","), "comma separated backends")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Strategies = splitList(*strategies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Kinds returns the enabled backends. Valid after Validate.
func (c *Config) Kinds() []strategy.Kind { return c.kinds }

// Enabled reports whether k was configured.
func (c *Config) Enabled(k strategy.Kind) bool {
	for _, have := range c.kinds {
		if have == k {
			return true
		}
	}
	return false
}

// TLS reports whether both TLS files are set.
func (c *Config) TLS() bool { return c.TLSCert != "" && c.TLSKey != "" }

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []error
	add := func(format string, a ...any) { problems = append(problems, fmt.Errorf(format, a...)) }

	if len(c.JWTSecret) < token.MinSecretLen {
		add("jwt secret must be at least %d bytes", token.MinSecretLen)
	}
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DSN == "" {
			add("store postgres requires a dsn")
		}
	default:
		add("unknown store %q", c.Store)
	}
	switch c.Tracker {
	case TrackerMemory, TrackerRedis:
	case TrackerPostgres:
		if c.Store != StorePostgres {
			add("tracker postgres requires store postgres")
		}
	default:
		add("unknown tracker %q", c.Tracker)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		add("tls cert and key must be set together")
	}
	if _, err := service.ParseDigestMode(c.DigestMode); err != nil {
		add("%v", err)
	}
	if _, err := service.ParseMigrationDirection(c.Migration); err != nil {
		add("%v", err)
	}

	c.kinds = c.kinds[:0]
	seen := map[strategy.Kind]bool{}
	for _, s := range c.Strategies {
		k, err := strategy.ParseKind(s)
		if err != nil {
			add("strategies: %v", err)
			continue
		}
		if !seen[k] {
			seen[k] = true
			c.kinds = append(c.kinds, k)
		}
	}
	if len(c.kinds) == 0 {
		add("at least one strategy is required")
	}
	needSecret := c.ServeDelegation
	if seen[strategy.KindFederation] {
		needSecret = true
		if c.PeerURL == "" {
			add("federation requires a peer url")
		}
	}
	if needSecret && len(c.DelegationSecret) < delegation.MinSecretLen {
		add("delegation secret must be at least %d bytes", delegation.MinSecretLen)
	}
	if seen[strategy.KindLDAP] && (c.LDAPURL == "" || c.LDAPBaseDN == "") {
		add("ldap requires url and base dn")
	}
	if seen[strategy.KindActiveDirectory] && (c.ADURL == "" || c.ADDomain == "") {
		add("active directory requires url and domain")
	}
	if seen[strategy.KindExternalAPI] && c.ExternalURL == "" {
		add("external api requires a base url")
	}
	if (c.BootstrapUser == "") != (c.BootstrapPassword == "") {
		add("bootstrap user and password must be set together")
	}
	return errors.Join(problems...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
