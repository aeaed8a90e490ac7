// Package policy implements the CI gate and the CI agent that follows
// verifier results.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/types"
)

// DefaultExpression allows a version with a valid attestation or without
// blocking incidents.
const DefaultExpression = `validAttestations > 0 || blockingIncidents == 0`

// Gate evaluates whether CI may use a package version
type Gate interface {
	// Evaluate renders a decision from the current store contents.
	// Trust failures are reported inside the decision, never as errors.
	Evaluate(ctx context.Context, projectID, packageName, version string) (*Decision, error)
}

// Store is the read-only view of the state store the gate needs
type Store interface {
	QueryIncidents(ctx context.Context, filter statestore.IncidentFilter) ([]*types.Incident, error)
	QueryCredentials(ctx context.Context, filter statestore.CredentialFilter) ([]*credential.Credential, error)
}

// CredentialChecker verifies attestation signatures and issuer trust
type CredentialChecker interface {
	Verify(ctx context.Context, c *credential.Credential) credential.VerificationResult
}

// PolicyConfig defines a CEL-based gate policy
type PolicyConfig struct {
	// Expression must evaluate to true for the version to be allowed.
	// Available variables:
	//   - projectId, packageName, version: the request
	//   - blockingIncidents: number of detected or verified incidents
	//   - validAttestations: number of currently effective attestations
	//   - attestations: list of maps with id, issuer, valid, reason, expiresAt
	//   - severities: severities of the blocking incidents
	Expression string `yaml:"expression" json:"expression"`

	// FailureMessage replaces the generated denial reason (optional)
	FailureMessage string `yaml:"failureMessage" json:"failureMessage"`

	// Projects overrides the policy for individual project ids
	Projects map[string]PolicyConfig `yaml:"projects,omitempty" json:"projects,omitempty"`
}

// Decision is the gate's answer for one package version
type Decision struct {
	Allowed                 bool               `json:"allowed"`
	Reason                  string             `json:"reason"`
	BlockingIncidents       []string           `json:"blockingIncidents"`
	RequiredCredentialTypes []string           `json:"requiredCredentialTypes"`
	AttestationsConsidered  []AttestationCheck `json:"attestationsConsidered"`
}

// AttestationCheck reports how one SafeToUse attestation was judged
type AttestationCheck struct {
	ID        string     `json:"id"`
	Issuer    string     `json:"issuer"`
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Description summarizes the active policy
type Description struct {
	AgentIdentity                  string            `json:"agentIdentity"`
	TrustedVerifiers               []string          `json:"trustedVerifiers"`
	DefaultPolicy                  string            `json:"defaultPolicy"`
	RequireAttestationForIncidents bool              `json:"requireAttestationForIncidents"`
	AttestationTypesAccepted       []string          `json:"attestationTypesAccepted"`
	Expression                     string            `json:"expression"`
	ProjectExpressions             map[string]string `json:"projectExpressions,omitempty"`
}

type program struct {
	config  PolicyConfig
	program cel.Program
}

// Engine implements Gate with CEL programs
type Engine struct {
	logger              *slog.Logger
	store               Store
	checker             CredentialChecker
	identity            string
	trustedVerifiers    []string
	expiryWarningWindow time.Duration
	defaultProgram      program
	projects            map[string]program
	now                 func() time.Time
}

// NewEngine compiles the default and per-project expressions
func NewEngine(store Store, checker CredentialChecker, config PolicyConfig, identity string, trustedVerifiers []string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	if config.Expression == "" {
		config.Expression = DefaultExpression
	}
	def, err := compile(env, config)
	if err != nil {
		return nil, err
	}

	projects := make(map[string]program, len(config.Projects))
	for id, pc := range config.Projects {
		if pc.Expression == "" {
			return nil, fmt.Errorf("policy for project %q has no expression", id)
		}
		p, err := compile(env, pc)
		if err != nil {
			return nil, fmt.Errorf("project %q: %w", id, err)
		}
		projects[id] = p
	}

	verifiers := append([]string(nil), trustedVerifiers...)
	sort.Strings(verifiers)

	return &Engine{
		logger:              logger,
		store:               store,
		checker:             checker,
		identity:            identity,
		trustedVerifiers:    verifiers,
		expiryWarningWindow: 2 * time.Hour,
		defaultProgram:      def,
		projects:            projects,
		now:                 time.Now,
	}, nil
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("projectId", cel.StringType),
		cel.Variable("packageName", cel.StringType),
		cel.Variable("version", cel.StringType),
		cel.Variable("blockingIncidents", cel.IntType),
		cel.Variable("validAttestations", cel.IntType),
		cel.Variable("attestations", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("severities", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compile(env *cel.Env, config PolicyConfig) (program, error) {
	ast, issues := env.Compile(config.Expression)
	if issues != nil && issues.Err() != nil {
		return program{}, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return program{}, fmt.Errorf("policy expression must return a boolean, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return program{}, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program{config: config, program: prg}, nil
}

// SetClock replaces the time source used for expiry checks
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetExpiryWarningWindow sets how close to expiry an attestation must be
// before a warning is logged
func (e *Engine) SetExpiryWarningWindow(d time.Duration) {
	e.expiryWarningWindow = d
}

// Evaluate implements Gate
func (e *Engine) Evaluate(ctx context.Context, projectID, packageName, version string) (*Decision, error) {
	if packageName == "" || version == "" {
		return nil, errors.NewInvalidInputf("packageName and version are required")
	}

	start := time.Now()
	defer func() {
		observability.GetMetrics().GateDuration.Observe(time.Since(start).Seconds())
	}()

	incidents, err := e.store.QueryIncidents(ctx, statestore.IncidentFilter{
		PackageName: packageName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	attestations, err := e.store.QueryCredentials(ctx, statestore.CredentialFilter{
		PackageName: packageName,
		Version:     version,
		Type:        credential.SafeToUseAttestation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query attestations: %w", err)
	}

	var blocking []string
	severities := make([]string, 0)
	for _, inc := range incidents {
		if inc.Status.Blocking() {
			blocking = append(blocking, inc.ID)
			severities = append(severities, string(inc.Severity))
		}
	}

	now := e.now()
	checks := make([]AttestationCheck, 0, len(attestations))
	celAttestations := make([]map[string]interface{}, 0, len(attestations))
	var approvedBy string
	valid := 0
	for _, att := range attestations {
		check := e.checkAttestation(ctx, att, now)
		checks = append(checks, check)
		if check.Valid {
			if valid == 0 {
				approvedBy = check.Issuer
			}
			valid++
		}

		entry := map[string]interface{}{
			"id":     check.ID,
			"issuer": check.Issuer,
			"valid":  check.Valid,
			"reason": check.Reason,
		}
		if check.ExpiresAt != nil {
			entry["expiresAt"] = check.ExpiresAt.UTC().Format(time.RFC3339)
		}
		celAttestations = append(celAttestations, entry)
	}
	prg, custom := e.projects[projectID]
	if !custom {
		prg = e.defaultProgram
	}

	out, _, err := prg.program.Eval(map[string]interface{}{
		"projectId":         projectID,
		"packageName":       packageName,
		"version":           version,
		"blockingIncidents": len(blocking),
		"validAttestations": valid,
		"attestations":      celAttestations,
		"severities":        severities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression did not return a boolean: %v", out.Value())
	}

	key := types.PackageKey(packageName, version)
	decision := &Decision{
		Allowed:                 allowed,
		BlockingIncidents:       []string{},
		RequiredCredentialTypes: []string{},
		AttestationsConsidered:  checks,
	}

	switch {
	case !allowed:
		decision.BlockingIncidents = append(decision.BlockingIncidents, blocking...)
		decision.RequiredCredentialTypes = []string{string(credential.SafeToUseAttestation)}
		switch {
		case prg.config.FailureMessage != "":
			decision.Reason = prg.config.FailureMessage
		case len(blocking) > 0 && valid == 0:
			decision.Reason = fmt.Sprintf("Package %s blocked due to security incident(s): %s. Awaiting %s from trusted verifier.",
				key, strings.Join(blocking, ", "), credential.SafeToUseAttestation)
		default:
			decision.Reason = fmt.Sprintf("Package %s blocked by project policy for %s", key, projectID)
		}
	case valid > 0:
		decision.Reason = fmt.Sprintf("Package approved via %s from %s", credential.SafeToUseAttestation, approvedBy)
	case len(blocking) == 0:
		decision.Reason = "No security incidents or attestations found. Package allowed by default policy."
	default:
		decision.Reason = fmt.Sprintf("Package %s allowed by project policy for %s", key, projectID)
	}

	label := "allowed"
	if !allowed {
		label = "blocked"
		e.logger.Warn("ci gate blocked package",
			"project_id", projectID,
			"package", packageName,
			"version", version,
			"blocking_incidents", blocking,
			"attestations", len(checks),
			"expression", prg.config.Expression)
	} else {
		e.logger.Info("ci gate allowed package",
			"project_id", projectID,
			"package", packageName,
			"version", version,
			"valid_attestations", valid,
			"blocking_incidents", len(blocking))
	}
	observability.GetMetrics().GateDecisions.WithLabelValues(label).Inc()

	return decision, nil
}

func (e *Engine) checkAttestation(ctx context.Context, att *credential.Credential, now time.Time) AttestationCheck {
	check := AttestationCheck{
		ID:        att.ID,
		Issuer:    att.IssuerIdentity,
		ExpiresAt: att.ExpiresAt,
	}

	vr := e.checker.Verify(ctx, att)
	switch {
	case !vr.SignatureValid || !vr.IssuerTrusted:
		check.Reason = vr.Reason
	case att.ExpiresAt == nil:
		check.Reason = "attestation has no expiry"
	case credential.Expired(att, now):
		check.Reason = "attestation expired"
	default:
		check.Valid = true
		check.Reason = "valid"

		if remaining := att.ExpiresAt.Sub(now); remaining <= e.expiryWarningWindow {
			e.logger.Warn("attestation expiring soon",
				"credential_id", att.ID,
				"package", att.Subject.PackageName,
				"version", att.Subject.Version,
				"expires_at", att.ExpiresAt,
				"remaining", remaining.Round(time.Second))
		}
	}
	return check
}

// Describe returns the active policy
func (e *Engine) Describe() Description {
	d := Description{
		AgentIdentity:                  e.identity,
		TrustedVerifiers:               append([]string{}, e.trustedVerifiers...),
		DefaultPolicy:                  "allow_unknown",
		RequireAttestationForIncidents: true,
		AttestationTypesAccepted:       []string{string(credential.SafeToUseAttestation)},
		Expression:                     e.defaultProgram.config.Expression,
	}
	if len(e.projects) > 0 {
		d.ProjectExpressions = make(map[string]string, len(e.projects))
		for id, p := range e.projects {
			d.ProjectExpressions[id] = p.config.Expression
		}
	}
	return d
}
