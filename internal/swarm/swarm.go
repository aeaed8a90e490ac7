// Package swarm assembles the scanner, verifier, patch and CI agents on a
// shared transport, agent registry and state store.
package swarm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/daimoniac/swarmshield/internal/attestation"
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/demo"
	"github.com/daimoniac/swarmshield/internal/detection"
	"github.com/daimoniac/swarmshield/internal/patch"
	"github.com/daimoniac/swarmshield/internal/policy"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/scanner"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/verifier"
	"github.com/daimoniac/swarmshield/internal/worker"
)

// Identities names the identity of each agent
type Identities struct {
	Scanner  string
	Verifier string
	Patch    string
	CI       string
}

// DefaultIdentities returns the built-in agent identities
func DefaultIdentities() Identities {
	return Identities{
		Scanner:  credential.ScannerIdentity,
		Verifier: credential.VerifierIdentity,
		Patch:    credential.PatchIdentity,
		CI:       credential.CIIdentity,
	}
}

// All returns every identity
func (i Identities) All() []string {
	return []string{i.Scanner, i.Verifier, i.Patch, i.CI}
}

// Options configures a swarm
type Options struct {
	Store            statestore.StateStore
	Transport        transport.Transport
	Registry         *registry.Registry
	Codec            *credential.Codec
	Identities       Identities
	Worker           worker.Config
	Verifier         verifier.Config
	Policy           policy.PolicyConfig
	TrustedVerifiers []string
	PopularPackages  []string
	Alternatives     map[string]patch.Alternative
	Logger           *slog.Logger
}

// Swarm holds the running agents
type Swarm struct {
	Scanner  *scanner.Scanner
	Verifier *verifier.Verifier
	Planner  *patch.Planner
	Gate     *policy.Engine
	CI       *policy.CIAgent
	Demo     *demo.Harness
	Engine   *detection.Engine
	Registry *registry.Registry

	runners []*worker.Runner
	logger  *slog.Logger
}

// New builds every agent and its runner. Nothing is registered or
// subscribed until Start.
func New(opts Options) (*Swarm, error) {
	if opts.Store == nil || opts.Transport == nil || opts.Registry == nil || opts.Codec == nil {
		return nil, fmt.Errorf("store, transport, registry and codec are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := opts.Identities
	if ids == (Identities{}) {
		ids = DefaultIdentities()
	}
	if opts.Verifier == (verifier.Config{}) {
		opts.Verifier = verifier.DefaultConfig()
	}
	if opts.Worker == (worker.Config{}) {
		opts.Worker = worker.DefaultConfig()
	}

	engine := detection.NewEngine(opts.PopularPackages, logger)

	scannerAgent := scanner.New(
		engine,
		attestation.NewAttestor(opts.Codec, ids.Scanner, logger),
		opts.Store,
		transport.NewEndpoint(opts.Transport, opts.Registry, ids.Scanner),
		logger,
	)

	verifierAgent := verifier.New(
		engine,
		attestation.NewAttestor(opts.Codec, ids.Verifier, logger),
		opts.Codec,
		opts.Store,
		transport.NewEndpoint(opts.Transport, opts.Registry, ids.Verifier),
		opts.Verifier,
		logger,
	)

	planner := patch.NewPlanner(ids.Patch, opts.Store, opts.Alternatives, logger)

	trusted := opts.TrustedVerifiers
	if len(trusted) == 0 {
		trusted = []string{ids.Verifier}
	}
	gate, err := policy.NewEngine(opts.Store, opts.Codec, opts.Policy, ids.CI, trusted, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	ci := policy.NewCIAgent(ids.CI, gate, logger)

	s := &Swarm{
		Scanner:  scannerAgent,
		Verifier: verifierAgent,
		Planner:  planner,
		Gate:     gate,
		CI:       ci,
		Engine:   engine,
		Registry: opts.Registry,
		logger:   logger,
	}

	scanRunner := worker.NewRunner(scannerAgent.Agent(), opts.Registry, opts.Transport, opts.Worker, logger)
	scanRunner.Handle(transport.ReleaseEvent, scannerAgent.HandleReleaseEvent)

	verifyRunner := worker.NewRunner(verifierAgent.Agent(), opts.Registry, opts.Transport, opts.Worker, logger)
	verifyRunner.Handle(transport.VerificationRequest, verifierAgent.HandleVerificationRequest)

	patchRunner := worker.NewRunner(planner.Agent(), opts.Registry, opts.Transport, opts.Worker, logger)
	patchRunner.Handle(transport.PatchRequest, planner.HandlePatchRequest)

	ciRunner := worker.NewRunner(ci.Agent(), opts.Registry, opts.Transport, opts.Worker, logger)
	ciRunner.Handle(transport.VerificationResult, ci.HandleVerificationResult)

	s.runners = []*worker.Runner{scanRunner, verifyRunner, patchRunner, ciRunner}
	s.Demo = demo.New(scannerAgent, opts.Registry, s.Agents(), logger)
	return s, nil
}

// Agents returns the registry records of every agent
func (s *Swarm) Agents() []registry.Agent {
	return []registry.Agent{
		s.Scanner.Agent(),
		s.Verifier.Agent(),
		s.CI.Agent(),
		s.Planner.Agent(),
	}
}

// Start registers and subscribes every agent. On failure the agents
// already started are stopped again.
func (s *Swarm) Start(ctx context.Context) error {
	for i, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			for _, started := range s.runners[:i] {
				_ = started.Stop()
			}
			return err
		}
	}
	s.logger.Info("swarm started", "agents", len(s.runners))
	return nil
}

// Stop stops every runner, waiting for in-flight handlers
func (s *Swarm) Stop() error {
	var firstErr error
	for _, r := range s.runners {
		if err := r.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
