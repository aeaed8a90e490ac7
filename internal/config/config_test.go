package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarmshield.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SWARMSHIELD_CONFIG", filepath.Join(t.TempDir(), "absent.yml"))
	t.Setenv("TRANSPORT_MODE", "InProcess")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transport.Mode != TransportInProcess {
		t.Errorf("Expected transport mode inprocess, got %s", cfg.Transport.Mode)
	}
	if cfg.Worker.RetryAttempts != 3 {
		t.Errorf("Expected 3 retry attempts, got %d", cfg.Worker.RetryAttempts)
	}
	if cfg.Verifier.ConfirmationThreshold != 0.7 {
		t.Errorf("Expected threshold 0.7, got %v", cfg.Verifier.ConfirmationThreshold)
	}
	if cfg.Verifier.AttestationTTL != 24*time.Hour {
		t.Errorf("Expected attestation TTL 24h, got %v", cfg.Verifier.AttestationTTL)
	}
	if cfg.Verifier.FalsePositiveTTL != 168*time.Hour {
		t.Errorf("Expected false positive TTL 168h, got %v", cfg.Verifier.FalsePositiveTTL)
	}
	if cfg.Agents.LivenessWindow != time.Minute {
		t.Errorf("Expected liveness window 1m, got %v", cfg.Agents.LivenessWindow)
	}
	if cfg.Watcher.Enabled {
		t.Error("Expected watcher disabled without watched packages")
	}
	if cfg.Watcher.RegistryURL != "https://registry.npmjs.org" {
		t.Errorf("Unexpected registry URL %s", cfg.Watcher.RegistryURL)
	}
	if cfg.Identities.Verifier != credential.VerifierIdentity {
		t.Errorf("Unexpected verifier identity %s", cfg.Identities.Verifier)
	}
	if cfg.StateStore.Type != "sqlite" {
		t.Errorf("Expected sqlite state store, got %s", cfg.StateStore.Type)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
}

func TestLoadWithFileAndOverrides(t *testing.T) {
	path := writeConfigFile(t, `defaults:
  x-poll-interval: 10m
  x-attestation-ttl: 2d
  x-worker-retry-attempts: 5
watch:
  - name: lodash-utils
    projects: [web-shop]
trust:
  verifiers: [did:example:auditor]
npm:
  registry: https://npm.internal.example/
`)

	t.Setenv("SWARMSHIELD_CONFIG", path)
	t.Setenv("TRANSPORT_MODE", "redis")
	t.Setenv("FALSE_POSITIVE_ATTESTATION_TTL", "12h")
	t.Setenv("VERIFIER_CONFIRMATION_THRESHOLD", "0.8")
	t.Setenv("LIVENESS_WINDOW", "90s")
	t.Setenv("API_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Watcher.PollInterval != 10*time.Minute {
		t.Errorf("Expected poll interval 10m, got %v", cfg.Watcher.PollInterval)
	}
	if !cfg.Watcher.Enabled || len(cfg.Watcher.Packages) != 1 {
		t.Errorf("Expected watcher enabled with 1 package, got %+v", cfg.Watcher)
	}
	if cfg.Watcher.RegistryURL != "https://npm.internal.example" {
		t.Errorf("Expected trimmed registry URL, got %s", cfg.Watcher.RegistryURL)
	}
	if cfg.Verifier.AttestationTTL != 48*time.Hour {
		t.Errorf("Expected attestation TTL 48h, got %v", cfg.Verifier.AttestationTTL)
	}
	if cfg.Verifier.FalsePositiveTTL != 12*time.Hour {
		t.Errorf("Expected env override 12h, got %v", cfg.Verifier.FalsePositiveTTL)
	}
	if cfg.Verifier.ConfirmationThreshold != 0.8 {
		t.Errorf("Expected threshold 0.8, got %v", cfg.Verifier.ConfirmationThreshold)
	}
	if cfg.Agents.LivenessWindow != 90*time.Second {
		t.Errorf("Expected liveness window 90s, got %v", cfg.Agents.LivenessWindow)
	}
	if cfg.Worker.RetryAttempts != 5 {
		t.Errorf("Expected 5 retry attempts, got %d", cfg.Worker.RetryAttempts)
	}
	if len(cfg.Credential.TrustedVerifiers) != 1 || cfg.Credential.TrustedVerifiers[0] != "did:example:auditor" {
		t.Errorf("Unexpected trusted verifiers %v", cfg.Credential.TrustedVerifiers)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("Expected API port 9000, got %d", cfg.API.Port)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Observability.LogLevel)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	t.Setenv("SWARMSHIELD_CONFIG", writeConfigFile(t, "watch: ["))

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for malformed config file")
	}
}

func validConfig() *Config {
	return &Config{
		Credential: CredentialConfig{Scheme: credential.SchemeEd25519, Seed: "demo"},
		Transport:  TransportConfig{Mode: TransportInProcess},
		StateStore: StateStoreConfig{Type: "sqlite", SQLitePath: "test.db"},
		Verifier: VerifierConfig{
			ConfirmationThreshold: 0.7,
			AttestationTTL:        24 * time.Hour,
			FalsePositiveTTL:      168 * time.Hour,
		},
		Agents: AgentsConfig{LivenessWindow: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing transport mode",
			mutate:  func(c *Config) { c.Transport.Mode = "" },
			wantErr: true,
			errMsg:  "TRANSPORT_MODE is required",
		},
		{
			name:    "unknown transport mode",
			mutate:  func(c *Config) { c.Transport.Mode = "kafka" },
			wantErr: true,
			errMsg:  "invalid transport mode",
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Transport.Mode = TransportRedis
				c.Transport.RedisAddr = ""
			},
			wantErr: true,
			errMsg:  "redis address is required",
		},
		{
			name:    "ed25519 without seed",
			mutate:  func(c *Config) { c.Credential.Seed = "" },
			wantErr: true,
			errMsg:  "SIGNING_SEED is required",
		},
		{
			name: "openpgp without seed",
			mutate: func(c *Config) {
				c.Credential.Scheme = credential.SchemeOpenPGP
				c.Credential.Seed = ""
			},
			wantErr: false,
		},
		{
			name:    "unknown scheme",
			mutate:  func(c *Config) { c.Credential.Scheme = "rsa" },
			wantErr: true,
			errMsg:  "invalid signing scheme",
		},
		{
			name:    "invalid state store type",
			mutate:  func(c *Config) { c.StateStore.Type = "memory" },
			wantErr: true,
			errMsg:  "invalid state store type",
		},
		{
			name:    "postgres without URL",
			mutate:  func(c *Config) { c.StateStore.Type = "postgres" },
			wantErr: true,
			errMsg:  "postgres URL is required",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Verifier.ConfirmationThreshold = 1.5 },
			wantErr: true,
			errMsg:  "confirmation threshold",
		},
		{
			name:    "zero attestation TTL",
			mutate:  func(c *Config) { c.Verifier.AttestationTTL = 0 },
			wantErr: true,
			errMsg:  "attestation TTLs must be positive",
		},
		{
			name: "watcher without poll interval",
			mutate: func(c *Config) {
				c.Watcher = WatcherConfig{Enabled: true, RegistryURL: "https://registry.npmjs.org"}
			},
			wantErr: true,
			errMsg:  "poll interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				if !errors.IsPermanent(err) {
					t.Errorf("Validate() error = %v, want permanent error", err)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
				}
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "5m")
	t.Setenv("TEST_DAYS", "2d")

	if d := getEnvDuration("TEST_DURATION", time.Minute); d != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", d)
	}
	if d := getEnvDuration("TEST_DAYS", time.Minute); d != 48*time.Hour {
		t.Errorf("Expected 48h, got %v", d)
	}
	if d := getEnvDuration("NONEXISTENT", 2*time.Minute); d != 2*time.Minute {
		t.Errorf("Expected 2m default, got %v", d)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.55")
	t.Setenv("TEST_FLOAT_BAD", "high")

	if f := getEnvFloat("TEST_FLOAT", 0.7); f != 0.55 {
		t.Errorf("Expected 0.55, got %v", f)
	}
	if f := getEnvFloat("TEST_FLOAT_BAD", 0.7); f != 0.7 {
		t.Errorf("Expected default for malformed value, got %v", f)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " did:a , ,did:b")

	got := getEnvList("TEST_LIST", nil)
	if len(got) != 2 || got[0] != "did:a" || got[1] != "did:b" {
		t.Errorf("Unexpected list %v", got)
	}
	if got := getEnvList("NONEXISTENT", []string{"x"}); len(got) != 1 {
		t.Errorf("Expected default list, got %v", got)
	}
}
