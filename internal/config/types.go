package config

import (
	"time"

	"github.com/daimoniac/swarmshield/internal/patch"
	"github.com/daimoniac/swarmshield/internal/policy"
)

// Config represents the complete application configuration
type Config struct {
	ConfigPath    string
	File          *FileConfig
	Identities    IdentityConfig
	Credential    CredentialConfig
	Transport     TransportConfig
	StateStore    StateStoreConfig
	Worker        WorkerConfig
	Verifier      VerifierConfig
	Watcher       WatcherConfig
	Agents        AgentsConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// IdentityConfig names the identity of each built-in agent
type IdentityConfig struct {
	Scanner  string
	Verifier string
	Patch    string
	CI       string
}

// CredentialConfig configures signing and issuer trust
type CredentialConfig struct {
	Scheme             string
	Seed               string
	OpenPGPKeyringPath string
	TrustPolicyPath    string
	TrustedScanners    []string
	TrustedVerifiers   []string
}

// TransportConfig selects and configures the message transport
type TransportConfig struct {
	Mode           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StreamPrefix   string
	PublishTimeout time.Duration
	ReadBlock      time.Duration
}

// StateStoreConfig configures the state store
type StateStoreConfig struct {
	Type        string
	PostgresURL string
	SQLitePath  string
}

// WorkerConfig configures the agent runners
type WorkerConfig struct {
	RetryAttempts     int
	RetryBackoff      time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

// VerifierConfig configures verdicts and attestation lifetimes
type VerifierConfig struct {
	ConfirmationThreshold float64
	AttestationTTL        time.Duration
	FalsePositiveTTL      time.Duration
}

// WatcherConfig configures npm registry polling
type WatcherConfig struct {
	Enabled      bool
	RegistryURL  string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
	Packages     []WatchedPackage
}

// AgentsConfig configures the agent registry
type AgentsConfig struct {
	LivenessWindow time.Duration
	DemoEnabled    bool
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled   bool
	Port      int
	APIKey    string
	ReadOnly  bool
	PublicURL string
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// FileConfig is the optional swarmshield.yml file
type FileConfig struct {
	Defaults        Defaults                     `yaml:"defaults"`
	Watch           []WatchedPackage             `yaml:"watch"`
	Policy          policy.PolicyConfig          `yaml:"policy"`
	Trust           TrustLists                   `yaml:"trust"`
	PopularPackages []string                     `yaml:"popularPackages,omitempty"`
	Alternatives    map[string]patch.Alternative `yaml:"alternatives,omitempty"`
	NPM             NPMSettings                  `yaml:"npm"`
}

// Defaults contains interval defaults in 30m, 3h or 7d notation
type Defaults struct {
	PollInterval     string `yaml:"x-poll-interval,omitempty"`
	AttestationTTL   string `yaml:"x-attestation-ttl,omitempty"`
	FalsePositiveTTL string `yaml:"x-false-positive-ttl,omitempty"`
	LivenessWindow   string `yaml:"x-liveness-window,omitempty"`
	RetryAttempts    int    `yaml:"x-worker-retry-attempts,omitempty"`
	RetryBackoff     string `yaml:"x-worker-retry-backoff,omitempty"`
}

// WatchedPackage is an npm package the watcher polls
type WatchedPackage struct {
	Name     string   `yaml:"name"`
	Range    string   `yaml:"range,omitempty"`
	Projects []string `yaml:"projects,omitempty"`
}

// TrustLists are the identities trusted per credential role
type TrustLists struct {
	Scanners  []string `yaml:"scanners,omitempty"`
	Verifiers []string `yaml:"verifiers,omitempty"`
}

// NPMSettings configures registry access. Values may use {{ env "NAME" }}.
type NPMSettings struct {
	Registry string `yaml:"registry,omitempty"`
	Token    string `yaml:"token,omitempty"`
}
