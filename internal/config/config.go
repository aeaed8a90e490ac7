package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
)

// Transport modes.
const (
	TransportInProcess = "inprocess"
	TransportRedis     = "redis"
)

// Load loads configuration from environment variables and the optional
// swarmshield.yml file. Environment variables win over file defaults.
func Load() (*Config, error) {
	configPath := getEnv("SWARMSHIELD_CONFIG", "swarmshield.yml")

	file := &FileConfig{}
	if _, err := os.Stat(configPath); err == nil {
		parsed, err := ParseFile(configPath)
		if err != nil {
			return nil, err
		}
		file = parsed
	}

	pollInterval, err := file.Defaults.interval(file.Defaults.PollInterval, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	attestationTTL, err := file.Defaults.interval(file.Defaults.AttestationTTL, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	falsePositiveTTL, err := file.Defaults.interval(file.Defaults.FalsePositiveTTL, 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	livenessWindow, err := file.Defaults.interval(file.Defaults.LivenessWindow, time.Minute)
	if err != nil {
		return nil, err
	}
	retryBackoff, err := file.Defaults.interval(file.Defaults.RetryBackoff, time.Second)
	if err != nil {
		return nil, err
	}
	retryAttempts := file.Defaults.RetryAttempts
	if retryAttempts == 0 {
		retryAttempts = 3
	}

	registryURL := file.NPM.Registry
	if registryURL == "" {
		registryURL = "https://registry.npmjs.org"
	}

	cfg := &Config{
		ConfigPath: configPath,
		File:       file,
		Identities: IdentityConfig{
			Scanner:  getEnv("SCANNER_IDENTITY", credential.ScannerIdentity),
			Verifier: getEnv("VERIFIER_IDENTITY", credential.VerifierIdentity),
			Patch:    getEnv("PATCH_IDENTITY", credential.PatchIdentity),
			CI:       getEnv("CI_IDENTITY", credential.CIIdentity),
		},
		Credential: CredentialConfig{
			Scheme:             getEnv("SIGNING_SCHEME", credential.SchemeEd25519),
			Seed:               getEnv("SIGNING_SEED", ""),
			OpenPGPKeyringPath: getEnv("OPENPGP_KEYRING_PATH", ""),
			TrustPolicyPath:    getEnv("TRUST_POLICY_PATH", ""),
			TrustedScanners:    getEnvList("TRUSTED_SCANNERS", file.Trust.Scanners),
			TrustedVerifiers:   getEnvList("TRUSTED_VERIFIERS", file.Trust.Verifiers),
		},
		Transport: TransportConfig{
			Mode:           strings.ToLower(getEnv("TRANSPORT_MODE", "")),
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:  getEnv("REDIS_PASSWORD", ""),
			RedisDB:        getEnvInt("REDIS_DB", 0),
			StreamPrefix:   getEnv("REDIS_STREAM_PREFIX", "swarmshield"),
			PublishTimeout: getEnvDuration("TRANSPORT_PUBLISH_TIMEOUT", 5*time.Second),
			ReadBlock:      getEnvDuration("TRANSPORT_READ_BLOCK", 2*time.Second),
		},
		StateStore: StateStoreConfig{
			Type:        getEnv("STATE_STORE_TYPE", "sqlite"),
			PostgresURL: getEnv("POSTGRES_URL", ""),
			SQLitePath:  getEnv("SQLITE_PATH", "swarmshield.db"),
		},
		Worker: WorkerConfig{
			RetryAttempts:     getEnvInt("WORKER_RETRY_ATTEMPTS", retryAttempts),
			RetryBackoff:      getEnvDuration("WORKER_RETRY_BACKOFF", retryBackoff),
			HeartbeatInterval: getEnvDuration("WORKER_HEARTBEAT_INTERVAL", 20*time.Second),
			ShutdownTimeout:   getEnvDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Verifier: VerifierConfig{
			ConfirmationThreshold: getEnvFloat("VERIFIER_CONFIRMATION_THRESHOLD", 0.7),
			AttestationTTL:        getEnvDuration("ATTESTATION_TTL", attestationTTL),
			FalsePositiveTTL:      getEnvDuration("FALSE_POSITIVE_ATTESTATION_TTL", falsePositiveTTL),
		},
		Watcher: WatcherConfig{
			Enabled:      getEnvBool("WATCHER_ENABLED", len(file.Watch) > 0),
			RegistryURL:  strings.TrimRight(getEnv("NPM_REGISTRY_URL", registryURL), "/"),
			Token:        getEnv("NPM_TOKEN", file.NPM.Token),
			PollInterval: getEnvDuration("WATCHER_POLL_INTERVAL", pollInterval),
			Timeout:      getEnvDuration("WATCHER_TIMEOUT", 30*time.Second),
			Packages:     file.Watch,
		},
		Agents: AgentsConfig{
			LivenessWindow: getEnvDuration("LIVENESS_WINDOW", livenessWindow),
			DemoEnabled:    getEnvBool("DEMO_ENABLED", true),
		},
		API: APIConfig{
			Enabled:   getEnvBool("API_ENABLED", true),
			Port:      getEnvInt("API_PORT", 8080),
			APIKey:    getEnv("API_KEY", ""),
			ReadOnly:  getEnvBool("API_READ_ONLY", false),
			PublicURL: getEnv("PUBLIC_URL", "http://localhost:8080"),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Transport.Mode {
	case TransportInProcess:
	case TransportRedis:
		if c.Transport.RedisAddr == "" {
			return errors.NewPermanentf("redis address is required when TRANSPORT_MODE=redis")
		}
	case "":
		return errors.NewPermanentf("TRANSPORT_MODE is required (inprocess or redis)")
	default:
		return errors.NewPermanentf("invalid transport mode: %s (must be inprocess or redis)", c.Transport.Mode)
	}

	switch c.Credential.Scheme {
	case credential.SchemeEd25519, credential.SchemeHMAC:
		if c.Credential.Seed == "" {
			return errors.NewPermanentf("SIGNING_SEED is required for the %s signing scheme", c.Credential.Scheme)
		}
	case credential.SchemeOpenPGP:
	default:
		return errors.NewPermanentf("invalid signing scheme: %s (must be ed25519, hmac, or openpgp)", c.Credential.Scheme)
	}

	if c.StateStore.Type != "sqlite" && c.StateStore.Type != "postgres" {
		return errors.NewPermanentf("invalid state store type: %s (must be sqlite or postgres)", c.StateStore.Type)
	}

	if c.StateStore.Type == "postgres" && c.StateStore.PostgresURL == "" {
		return errors.NewPermanentf("postgres URL is required when using postgres state store")
	}

	if c.StateStore.Type == "sqlite" && c.StateStore.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required when using sqlite state store")
	}

	if c.Verifier.ConfirmationThreshold <= 0 || c.Verifier.ConfirmationThreshold > 1 {
		return errors.NewPermanentf("confirmation threshold must be in (0, 1], got %v", c.Verifier.ConfirmationThreshold)
	}

	if c.Verifier.AttestationTTL <= 0 || c.Verifier.FalsePositiveTTL <= 0 {
		return errors.NewPermanentf("attestation TTLs must be positive")
	}

	if c.Agents.LivenessWindow <= 0 {
		return errors.NewPermanentf("liveness window must be positive")
	}

	if c.Watcher.Enabled {
		if c.Watcher.RegistryURL == "" {
			return errors.NewPermanentf("npm registry URL is required when the watcher is enabled")
		}
		if c.Watcher.PollInterval <= 0 {
			return errors.NewPermanentf("watcher poll interval must be positive")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if duration, err := parseInterval(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList reads a comma separated list.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
