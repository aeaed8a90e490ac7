package policy

import (
	"context"
	"log/slog"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/transport"
)

// Capabilities advertised by the CI agent
var Capabilities = []registry.Capability{registry.CapCIPolicy, registry.CapReleaseGatekeeping}

// CIAgent follows verifier results and re-evaluates the gate for the
// affected version so operators see the effective decision in the logs.
type CIAgent struct {
	identity string
	gate     Gate
	logger   *slog.Logger
}

// NewCIAgent creates the CI agent for identity
func NewCIAgent(identity string, gate Gate, logger *slog.Logger) *CIAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &CIAgent{
		identity: identity,
		gate:     gate,
		logger:   observability.ForAgent(logger, identity),
	}
}

// Agent returns the registry record for the CI agent
func (a *CIAgent) Agent() registry.Agent {
	return registry.Agent{
		Identity:     a.identity,
		DisplayName:  "CI Agent",
		Capabilities: Capabilities,
	}
}

// HandleVerificationResult is the transport handler for
// verification_result messages. It never changes state.
func (a *CIAgent) HandleVerificationResult(ctx context.Context, msg transport.Message) error {
	var res transport.VerificationResultPayload
	if err := msg.Decode(&res); err != nil {
		return errors.NewPermanent(err)
	}
	observability.GetMetrics().VerificationSeen.WithLabelValues(res.Verdict).Inc()

	a.logger.Info("received verification result",
		"from", msg.From,
		"incident_id", res.IncidentID,
		"package", res.PackageName,
		"version", res.Version,
		"verdict", res.Verdict,
		"credential_id", res.CredentialID,
		"attestation_id", res.AttestationID,
		"attestation_version", res.AttestationVersion)

	if res.PackageName == "" || res.Version == "" {
		return nil
	}
	decision, err := a.gate.Evaluate(ctx, "", res.PackageName, res.Version)
	if err != nil {
		return err
	}
	a.logger.Info("gate decision after verdict",
		"package", res.PackageName,
		"version", res.Version,
		"allowed", decision.Allowed,
		"reason", decision.Reason)
	return nil
}
