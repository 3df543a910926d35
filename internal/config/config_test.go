package config

import (
	"testing"
	"time"

	"github.com/and161185/credgate/internal/strategy"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CREDGATE_JWT_SECRET", secret)

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, TrackerMemory, cfg.Tracker)
	require.Equal(t, 5, cfg.LockThreshold)
	require.Equal(t, 15*time.Minute, cfg.LockDuration)
	require.Equal(t, 24*time.Hour, cfg.LockIdle)
	require.Equal(t, time.Hour, cfg.AccessTTL)
	require.Equal(t, 300*time.Second, cfg.DelegationWindow)
	require.Equal(t, []strategy.Kind{strategy.KindDatabase}, cfg.Kinds())
	require.False(t, cfg.TLS())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("CREDGATE_JWT_SECRET", "short")
	t.Setenv("CREDGATE_HTTP_ADDR", ":9000")

	cfg, err := Load([]string{"-jwt-key", secret, "-addr", ":7000", "-strategies", "db, ldap,local",
		"-dev"})
	require.Error(t, err, "ldap without url")
	require.Nil(t, cfg)

	t.Setenv("CREDGATE_LDAP_URL", "ldap://dir")
	t.Setenv("CREDGATE_LDAP_BASE_DN", "ou=users,dc=bank")
	cfg, err = Load([]string{"-jwt-key", secret, "-addr", ":7000", "-strategies", "db, ldap,local", "-dev"})
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.HTTPAddr)
	require.True(t, cfg.Dev)
	require.Equal(t, []strategy.Kind{strategy.KindDatabase, strategy.KindLDAP}, cfg.Kinds())
	require.True(t, cfg.Enabled(strategy.KindLDAP))
	require.False(t, cfg.Enabled(strategy.KindFederation))
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{JWTSecret: secret, Store: StoreMemory, Tracker: TrackerMemory,
			DigestMode: "client", Migration: "none", Strategies: []string{"database"}}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "x" }, false},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }, false},
		{"pg tracker on memory store", func(c *Config) { c.Tracker = TrackerPostgres }, false},
		{"pg tracker on pg store", func(c *Config) { c.Store, c.DSN, c.Tracker = StorePostgres, "postgres://x", TrackerPostgres }, true},
		{"unknown store", func(c *Config) { c.Store = "mongo" }, false},
		{"unknown strategy", func(c *Config) { c.Strategies = []string{"kerberos"} }, false},
		{"no strategies", func(c *Config) { c.Strategies = nil }, false},
		{"federation without peer", func(c *Config) {
			c.Strategies, c.DelegationSecret = []string{"remote"}, secret
		}, false},
		{"federation without secret", func(c *Config) {
			c.Strategies, c.PeerURL = []string{"remote"}, "https://peer"
		}, false},
		{"federation", func(c *Config) {
			c.Strategies, c.PeerURL, c.DelegationSecret = []string{"remote"}, "https://peer", secret
		}, true},
		{"serve delegation without secret", func(c *Config) { c.ServeDelegation = true }, false},
		{"ad without domain", func(c *Config) { c.Strategies, c.ADURL = []string{"ad"}, "ldaps://ad" }, false},
		{"external without url", func(c *Config) { c.Strategies = []string{"api"} }, false},
		{"half tls", func(c *Config) { c.TLSCert = "cert.pem" }, false},
		{"bad digest", func(c *Config) { c.DigestMode = "both" }, false},
		{"half bootstrap", func(c *Config) { c.BootstrapUser = "admin" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
