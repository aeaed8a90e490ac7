package api

import (
	"context"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/demo"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/patch"
	"github.com/daimoniac/swarmshield/internal/policy"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/scanner"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/swarm"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Store is the read side of the state store
type Store interface {
	GetIncident(ctx context.Context, id string) (*types.Incident, error)
	QueryIncidents(ctx context.Context, filter statestore.IncidentFilter) ([]*types.Incident, error)
	GetCredential(ctx context.Context, id string) (*credential.Credential, error)
	QueryCredentials(ctx context.Context, filter statestore.CredentialFilter) ([]*credential.Credential, error)
	GetPatchPlan(ctx context.Context, id string) (*types.PatchPlan, error)
	ListPatchPlans(ctx context.Context, filter statestore.PatchPlanFilter) ([]*types.PatchPlan, error)
}

// Gate answers CI checks
type Gate interface {
	Evaluate(ctx context.Context, projectID, packageName, version string) (*policy.Decision, error)
	Describe() policy.Description
}

// ReleaseScanner scans an ingested release
type ReleaseScanner interface {
	Scan(ctx context.Context, ev types.ReleaseEvent) (*scanner.Result, error)
}

// PatchPlanner creates and applies patch plans
type PatchPlanner interface {
	Plan(ctx context.Context, incidentID string) (*types.PatchPlan, error)
	Accept(ctx context.Context, planID string) (*types.PatchPlan, error)
	Alternatives() map[string]patch.Alternative
}

// AgentRegistry is the agent directory
type AgentRegistry interface {
	Register(a registry.Agent) (registry.Agent, error)
	Heartbeat(identity string) (registry.Agent, error)
	Get(identity string) (registry.Agent, error)
	List() []registry.Agent
}

// DemoHarness runs demo scenarios
type DemoHarness interface {
	Trigger(ctx context.Context, req demo.TriggerRequest) (*demo.TriggerResult, error)
	Seed(ctx context.Context) (int, error)
}

// CredentialVerifier checks stored credentials
type CredentialVerifier interface {
	Verify(ctx context.Context, c *credential.Credential) credential.VerificationResult
	Scheme() credential.Scheme
}

// Services are the components the API serves. A nil Demo disables the
// demo endpoints; a nil Health reports a static healthy status.
type Services struct {
	Store    Store
	Gate     Gate
	Scanner  ReleaseScanner
	Planner  PatchPlanner
	Agents   AgentRegistry
	Demo     DemoHarness
	Verifier CredentialVerifier
	Health   *observability.HealthChecker
}

// ServicesFromSwarm wires the API to a running swarm
func ServicesFromSwarm(sw *swarm.Swarm, store statestore.StateStore, codec *credential.Codec, health *observability.HealthChecker, demoEnabled bool) Services {
	svc := Services{
		Store:    store,
		Gate:     sw.Gate,
		Scanner:  sw.Scanner,
		Planner:  sw.Planner,
		Agents:   sw.Registry,
		Verifier: codec,
		Health:   health,
	}
	if demoEnabled {
		svc.Demo = sw.Demo
	}
	return svc
}
