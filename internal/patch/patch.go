// Package patch implements the patch agent. It turns verified incidents
// into remediation plans and accepting a plan mitigates the incident.
package patch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Capabilities advertised by the patch agent
var Capabilities = []registry.Capability{registry.CapAutofix, registry.CapPatchPlanner}

// Alternative is a known safe replacement for a malicious package
type Alternative struct {
	Package string `yaml:"package" json:"package"`
	Version string `yaml:"version" json:"version"`
}

func (a Alternative) String() string {
	return types.PackageKey(a.Package, a.Version)
}

// DefaultAlternatives maps known typosquats to the package they imitate
var DefaultAlternatives = map[string]Alternative{
	"lodash-utils":            {Package: "lodash", Version: "4.17.21"},
	"express-validator-utils": {Package: "express-validator", Version: "7.0.1"},
	"react-dom-helper":        {Package: "react-dom", Version: "18.2.0"},
}

// Store is the part of the state store the patch agent uses
type Store interface {
	GetIncident(ctx context.Context, id string) (*types.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status types.IncidentStatus) (*types.Incident, error)
	SavePatchPlan(ctx context.Context, plan *types.PatchPlan) (*types.PatchPlan, error)
	GetPatchPlan(ctx context.Context, id string) (*types.PatchPlan, error)
	ListPatchPlans(ctx context.Context, filter statestore.PatchPlanFilter) ([]*types.PatchPlan, error)
	UpdatePatchPlanStatus(ctx context.Context, id string, status types.PatchPlanStatus) (*types.PatchPlan, error)
}

// Planner is the patch agent
type Planner struct {
	identity     string
	store        Store
	alternatives map[string]Alternative
	logger       *slog.Logger
	now          func() time.Time
}

// NewPlanner creates a planner. extra alternatives override the defaults.
func NewPlanner(identity string, store Store, extra map[string]Alternative, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	alternatives := make(map[string]Alternative, len(DefaultAlternatives)+len(extra))
	for name, alt := range DefaultAlternatives {
		alternatives[name] = alt
	}
	for name, alt := range extra {
		alternatives[name] = alt
	}
	return &Planner{
		identity:     identity,
		store:        store,
		alternatives: alternatives,
		logger:       observability.ForAgent(logger, identity),
		now:          time.Now,
	}
}

// Agent returns the registry record for the patch agent
func (p *Planner) Agent() registry.Agent {
	return registry.Agent{
		Identity:     p.identity,
		DisplayName:  "Patch Agent",
		Capabilities: Capabilities,
	}
}

// Alternatives returns the known safe alternatives keyed by package name
func (p *Planner) Alternatives() map[string]Alternative {
	out := make(map[string]Alternative, len(p.alternatives))
	for name, alt := range p.alternatives {
		out[name] = alt
	}
	return out
}

// HandlePatchRequest is the transport handler for patch_request messages
func (p *Planner) HandlePatchRequest(ctx context.Context, msg transport.Message) error {
	var req transport.PatchRequestPayload
	if err := msg.Decode(&req); err != nil {
		return errors.NewPermanent(err)
	}
	_, err := p.Plan(ctx, req.IncidentID)
	return err
}

// Plan returns the remediation plan for a verified incident, creating it
// on first use. An incident has at most one plan.
func (p *Planner) Plan(ctx context.Context, incidentID string) (*types.PatchPlan, error) {
	if incidentID == "" {
		return nil, errors.NewInvalidInputf("incident id is required")
	}

	existing, err := p.store.ListPatchPlans(ctx, statestore.PatchPlanFilter{IncidentID: incidentID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	incident, err := p.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != types.StatusVerified {
		return nil, errors.NewConflictf("incident %s is %s, plans require a verified incident", incident.ID, incident.Status)
	}

	plan := p.build(incident)
	stored, err := p.store.SavePatchPlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to save patch plan: %w", err)
	}
	if stored.ID == plan.ID {
		observability.GetMetrics().PatchPlansCreated.WithLabelValues(string(stored.Action)).Inc()
		p.logger.Info("patch plan created",
			"plan_id", stored.ID,
			"incident_id", incident.ID,
			"package", incident.PackageName,
			"version", incident.Version,
			"action", stored.Action,
			"recommended", stored.RecommendedVersion)
	}
	return stored, nil
}

func (p *Planner) build(incident *types.Incident) *types.PatchPlan {
	now := p.now().UTC()
	plan := &types.PatchPlan{
		ID:             uuid.NewString(),
		IncidentID:     incident.ID,
		PackageName:    incident.PackageName,
		CurrentVersion: incident.Version,
		Status:         types.PlanProposed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	name := incident.PackageName
	if alt, ok := p.alternatives[name]; ok {
		plan.Action = types.ActionReplace
		plan.RecommendedVersion = alt.String()
		plan.Steps = []string{
			fmt.Sprintf("1. Remove malicious package: `npm uninstall %s`", name),
			fmt.Sprintf("2. Install safe alternative: `npm install %s`", alt),
			fmt.Sprintf("3. Update imports in your code: replace `require('%s')` with `require('%s')`", name, alt.Package),
			"4. Run tests to verify functionality",
			"5. Commit changes with message: 'Security: Replace malicious dependency'",
		}
		return plan
	}

	if prev, ok := types.PreviousVersion(incident.Version); ok {
		plan.Action = types.ActionRollback
		plan.RecommendedVersion = prev
		plan.Steps = []string{
			fmt.Sprintf("1. Pin to previous safe version: `npm install %s`", types.PackageKey(name, prev)),
			fmt.Sprintf("2. Add to package.json: `\"%s\": \"%s\"`", name, prev),
			"3. Run `npm audit` to verify no remaining vulnerabilities",
			"4. Commit changes with message: 'Security: Pin to safe version'",
		}
		return plan
	}

	plan.Action = types.ActionRemove
	plan.Steps = []string{
		fmt.Sprintf("1. Remove the package: `npm uninstall %s`", name),
		fmt.Sprintf("2. Search codebase for imports: `grep -r \"require('%s')\" .`", name),
		"3. Replace with alternative implementation or remove unused code",
		"4. Run tests to verify nothing breaks",
		"5. Commit changes with message: 'Security: Remove vulnerable dependency'",
	}
	return plan
}

// Accept applies a plan: the incident moves to mitigated and the plan to
// accepted. Accepting twice is a no-op.
func (p *Planner) Accept(ctx context.Context, planID string) (*types.PatchPlan, error) {
	plan, err := p.store.GetPatchPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	inc, err := p.store.UpdateIncidentStatus(ctx, plan.IncidentID, types.StatusMitigated)
	if err != nil {
		return nil, err
	}
	accepted, err := p.store.UpdatePatchPlanStatus(ctx, plan.ID, types.PlanAccepted)
	if err != nil {
		return nil, err
	}

	p.logger.Info("patch plan accepted",
		"plan_id", accepted.ID,
		"incident_id", inc.ID,
		"package", inc.PackageName,
		"status", inc.Status)
	return accepted, nil
}
