package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/daimoniac/swarmshield/internal/api"
	"github.com/daimoniac/swarmshield/internal/config"
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/swarm"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/verifier"
	"github.com/daimoniac/swarmshield/internal/watcher"
	"github.com/daimoniac/swarmshield/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting swarmshield",
		"config_path", cfg.ConfigPath,
		"transport", cfg.Transport.Mode,
		"state_store", cfg.StateStore.Type,
		"scheme", cfg.Credential.Scheme,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()
	logger.Debug("metrics initialized",
		"metrics_port", cfg.Observability.MetricsPort)

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterComponent("config")
	healthChecker.UpdateComponentHealth("config", observability.StatusHealthy, "")

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		healthChecker,
	)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	logger.Debug("initializing state store",
		"type", cfg.StateStore.Type)
	store, err := openStore(cfg.StateStore)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing state store",
				"error", err.Error())
		}
	}()
	healthChecker.RegisterCheck(observability.ComponentStore, store.Ping)
	observability.RegisterStoreCollector(store, logger)
	logger.Debug("state store initialized")

	codec, err := buildCodec(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Debug("credential codec initialized",
		"algorithm", codec.Scheme().Algorithm())

	logger.Debug("initializing transport",
		"mode", cfg.Transport.Mode)
	tr, err := openTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}
	if pinger, ok := tr.(interface{ Ping(context.Context) error }); ok {
		healthChecker.RegisterCheck(observability.ComponentTransport, pinger.Ping)
	} else {
		healthChecker.UpdateComponentHealth(observability.ComponentTransport, observability.StatusHealthy, "in-process")
	}

	agents := registry.New(cfg.Agents.LivenessWindow)
	ids := swarm.Identities{
		Scanner:  cfg.Identities.Scanner,
		Verifier: cfg.Identities.Verifier,
		Patch:    cfg.Identities.Patch,
		CI:       cfg.Identities.CI,
	}

	sw, err := swarm.New(swarm.Options{
		Store:      store,
		Transport:  tr,
		Registry:   agents,
		Codec:      codec,
		Identities: ids,
		Worker: worker.Config{
			RetryAttempts:     cfg.Worker.RetryAttempts,
			RetryBackoff:      cfg.Worker.RetryBackoff,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
		},
		Verifier: verifier.Config{
			ConfirmationThreshold: cfg.Verifier.ConfirmationThreshold,
			AttestationTTL:        cfg.Verifier.AttestationTTL,
			FalsePositiveTTL:      cfg.Verifier.FalsePositiveTTL,
		},
		Policy:           cfg.File.Policy,
		TrustedVerifiers: trustedOr(cfg.Credential.TrustedVerifiers, ids.Verifier),
		PopularPackages:  cfg.File.PopularPackages,
		Alternatives:     cfg.File.Alternatives,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("failed to assemble agents: %w", err)
	}
	if err := sw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agents: %w", err)
	}
	healthChecker.RegisterCheck(observability.ComponentAgents, func(ctx context.Context) error {
		for _, id := range ids.All() {
			a, err := agents.Get(id)
			if err != nil {
				return err
			}
			if a.Status != registry.StatusOnline {
				return fmt.Errorf("agent %s is offline", id)
			}
		}
		return nil
	})
	go healthChecker.StartPeriodicChecks(ctx, 30*time.Second)

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	if cfg.Watcher.Enabled {
		logger.Debug("initializing registry watcher",
			"registry", cfg.Watcher.RegistryURL,
			"packages", len(cfg.Watcher.Packages),
			"poll_interval", cfg.Watcher.PollInterval)
		client, err := watcher.NewNPMClient(cfg.Watcher.RegistryURL, cfg.Watcher.Token, cfg.Watcher.Timeout)
		if err != nil {
			return fmt.Errorf("failed to initialize npm client: %w", err)
		}
		registryWatcher := watcher.NewWatcher(
			client,
			cfg.Watcher.Packages,
			store,
			transport.NewEndpoint(tr, agents, watcher.Identity),
			watcher.Config{PollInterval: cfg.Watcher.PollInterval},
			logger,
		)
		healthChecker.UpdateComponentHealth(observability.ComponentWatcher, observability.StatusHealthy, "")

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := registryWatcher.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("registry watcher error",
					"error", err.Error())
				errChan <- fmt.Errorf("registry watcher error: %w", err)
			}
			logger.Debug("registry watcher stopped")
		}()
	}

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly,
			"demo", cfg.Agents.DemoEnabled)
		apiServer = api.NewAPIServer(
			&cfg.API,
			api.ServicesFromSwarm(sw, store, codec, healthChecker, cfg.Agents.DemoEnabled),
			logger,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("API server error: %w", err)
			}
			logger.Debug("API server stopped")
		}()
	}

	logger.Info("all components started successfully",
		"agents", len(ids.All()))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", err.Error())
		cancel()
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		if err := sw.Stop(); err != nil {
			logger.Error("error stopping agents",
				"error", err.Error())
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down API server",
				"error", err.Error())
		}
	}

	if err := tr.Close(); err != nil {
		logger.Error("error closing transport",
			"error", err.Error())
	}

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down observability server",
			"error", err.Error())
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(cfg config.StateStoreConfig) (statestore.StateStore, error) {
	switch cfg.Type {
	case "sqlite":
		store, err := statestore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := statestore.NewPostgresStore(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", cfg.Type)
	}
}

func openTransport(ctx context.Context, cfg config.TransportConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Mode {
	case config.TransportInProcess:
		return transport.NewInProcess(logger), nil
	case config.TransportRedis:
		tr, err := transport.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger,
			transport.WithStreamPrefix(cfg.StreamPrefix),
			transport.WithPublishTimeout(cfg.PublishTimeout),
			transport.WithReadBlock(cfg.ReadBlock),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unsupported transport mode: %s", cfg.Mode)
	}
}

func buildCodec(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*credential.Codec, error) {
	identities := []string{
		cfg.Identities.Scanner,
		cfg.Identities.Verifier,
		cfg.Identities.Patch,
		cfg.Identities.CI,
	}

	var scheme credential.Scheme
	if cfg.Credential.Scheme == credential.SchemeOpenPGP && cfg.Credential.OpenPGPKeyringPath != "" {
		ring, err := credential.LoadOpenPGPScheme(cfg.Credential.OpenPGPKeyringPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load openpgp keyring: %w", err)
		}
		scheme = ring
	} else {
		s, err := credential.NewScheme(cfg.Credential.Scheme, []byte(cfg.Credential.Seed), identities)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize signing scheme: %w", err)
		}
		scheme = s
		if cfg.Credential.Scheme == credential.SchemeOpenPGP {
			logger.Warn("no openpgp keyring configured, using ephemeral keys")
		}
	}

	var trust credential.TrustPolicy
	if cfg.Credential.TrustPolicyPath != "" {
		rego, err := credential.LoadRegoTrust(ctx, cfg.Credential.TrustPolicyPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust policy: %w", err)
		}
		trust = rego
		logger.Info("issuer trust delegated to rego policy",
			"path", cfg.Credential.TrustPolicyPath)
	} else {
		trust = credential.NewStaticTrust(credential.DefaultAllowList(
			trustedOr(cfg.Credential.TrustedScanners, cfg.Identities.Scanner),
			trustedOr(cfg.Credential.TrustedVerifiers, cfg.Identities.Verifier),
		))
	}

	return credential.NewCodec(scheme, trust), nil
}

func trustedOr(list []string, fallback string) []string {
	if len(list) > 0 {
		return list
	}
	return []string{fallback}
}
