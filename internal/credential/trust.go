package credential

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// TrustPolicy decides whether an issuer may issue a credential type.
type TrustPolicy interface {
	IsTrusted(ctx context.Context, t Type, issuer string) bool
}

// Default simulator identities.
const (
	ScannerIdentity  = "did:simulator:scanner"
	VerifierIdentity = "did:simulator:verifier"
	PatchIdentity    = "did:simulator:patch"
	CIIdentity       = "did:simulator:ci"
)

// DefaultAllowList trusts scanner identities for findings and verifier
// identities for verdicts and attestations.
func DefaultAllowList(scanners, verifiers []string) map[Type][]string {
	return map[Type][]string{
		RiskFinding:          append([]string(nil), scanners...),
		VerifiedIncident:     append([]string(nil), verifiers...),
		FalsePositive:        append([]string(nil), verifiers...),
		SafeToUseAttestation: append([]string(nil), verifiers...),
	}
}

// StaticTrust is a per-type issuer allow-list.
type StaticTrust struct {
	allowed map[Type]map[string]struct{}
}

func NewStaticTrust(allow map[Type][]string) *StaticTrust {
	st := &StaticTrust{allowed: make(map[Type]map[string]struct{})}
	for t, issuers := range allow {
		st.allowed[t] = identitySet(issuers)
	}
	return st
}

func (s *StaticTrust) IsTrusted(_ context.Context, t Type, issuer string) bool {
	issuers, ok := s.allowed[t]
	if !ok {
		return false
	}
	_, ok = issuers[issuer]
	return ok
}

// TrustedIssuers returns the allow-list for a type, sorted.
func (s *StaticTrust) TrustedIssuers(t Type) []string {
	return sortedIdentities(s.allowed[t])
}

// RegoQuery is the rule evaluated by RegoTrust.
const RegoQuery = "data.swarmshield.trust.allow"

// RegoTrust evaluates an OPA policy with input {"type", "issuer"}.
// Evaluation errors and undefined results count as untrusted.
type RegoTrust struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger
}

// LoadRegoTrust compiles the Rego module at path.
func LoadRegoTrust(ctx context.Context, path string, logger *slog.Logger) (*RegoTrust, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust policy: %w", err)
	}
	return NewRegoTrust(ctx, path, string(src), logger)
}

// NewRegoTrust compiles a Rego module from source.
func NewRegoTrust(ctx context.Context, name, module string, logger *slog.Logger) (*RegoTrust, error) {
	if logger == nil {
		logger = slog.Default()
	}
	query, err := rego.New(
		rego.Query(RegoQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile trust policy: %w", err)
	}
	return &RegoTrust{query: query, logger: logger}, nil
}

func (r *RegoTrust) IsTrusted(ctx context.Context, t Type, issuer string) bool {
	input := map[string]interface{}{
		"type":   string(t),
		"issuer": issuer,
	}
	results, err := r.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		r.logger.Warn("trust policy evaluation failed",
			"type", t,
			"issuer", issuer,
			"error", err)
		return false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed
}
