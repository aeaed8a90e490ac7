// Package verifier implements the verification agent. It independently
// re-runs detection on a flagged release, records a verdict credential,
// moves the incident to its terminal detection status and issues a
// time-boxed Safe-to-Use attestation.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daimoniac/swarmshield/internal/attestation"
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/detection"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Capabilities advertised by the verifier
var Capabilities = []registry.Capability{registry.CapSecurityVerify, registry.CapIncidentResponse}

// Config contains verifier thresholds and attestation lifetimes
type Config struct {
	ConfirmationThreshold float64
	AttestationTTL        time.Duration
	FalsePositiveTTL      time.Duration
}

// DefaultConfig returns default verifier configuration
func DefaultConfig() Config {
	return Config{
		ConfirmationThreshold: 0.7,
		AttestationTTL:        24 * time.Hour,
		FalsePositiveTTL:      168 * time.Hour,
	}
}

// Store is the part of the state store the verifier uses
type Store interface {
	GetIncident(ctx context.Context, id string) (*types.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id string, status types.IncidentStatus) (*types.Incident, error)
	AppendCredential(ctx context.Context, c *credential.Credential) error
	GetCredential(ctx context.Context, id string) (*credential.Credential, error)
	QueryCredentials(ctx context.Context, filter statestore.CredentialFilter) ([]*credential.Credential, error)
	FindOpenIncident(ctx context.Context, packageName, version string) (*types.Incident, error)
}

// CredentialChecker verifies the scanner's original finding
type CredentialChecker interface {
	Verify(ctx context.Context, c *credential.Credential) credential.VerificationResult
}

// Broadcaster routes a message to every agent with a capability
type Broadcaster interface {
	Broadcast(ctx context.Context, c registry.Capability, t transport.MessageType, payload interface{}) (int, error)
}

// Outcome describes a completed verification
type Outcome struct {
	IncidentID          string                        `json:"incidentId"`
	Verified            bool                          `json:"verified"`
	Verdict             string                        `json:"verdict"`
	VerdictCredentialID string                        `json:"verdictCredentialId"`
	AttestationID       string                        `json:"attestationId,omitempty"`
	AttestationVersion  string                        `json:"attestationVersion,omitempty"`
	Confirmed           []types.RiskIndicator         `json:"confirmed"`
	Original            credential.VerificationResult `json:"original"`
	Status              types.IncidentStatus          `json:"status"`
	Notes               string                        `json:"notes"`
}

// Verifier is the verification agent
type Verifier struct {
	identity    string
	engine      *detection.Engine
	attestor    *attestation.Attestor
	checker     CredentialChecker
	store       Store
	broadcaster Broadcaster
	config      Config
	locks       *statestore.KeyedMutex
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a verifier issuing credentials through attestor
func New(engine *detection.Engine, attestor *attestation.Attestor, checker CredentialChecker, store Store, broadcaster Broadcaster, config Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		identity:    attestor.Identity(),
		engine:      engine,
		attestor:    attestor,
		checker:     checker,
		store:       store,
		broadcaster: broadcaster,
		config:      config,
		locks:       statestore.NewKeyedMutex(),
		logger:      observability.ForAgent(logger, attestor.Identity()),
		now:         time.Now,
	}
}

// Agent returns the registry record for this verifier
func (v *Verifier) Agent() registry.Agent {
	return registry.Agent{
		Identity:     v.identity,
		DisplayName:  "Verifier Agent",
		Capabilities: Capabilities,
	}
}

// HandleVerificationRequest is the transport handler for
// verification_request messages.
func (v *Verifier) HandleVerificationRequest(ctx context.Context, msg transport.Message) error {
	var req transport.VerificationRequestPayload
	if err := msg.Decode(&req); err != nil {
		return errors.NewPermanent(err)
	}
	_, err := v.Verify(ctx, req)
	return err
}

// Verify processes one verification request. Running it again for the
// same incident issues no new verdict.
func (v *Verifier) Verify(ctx context.Context, req transport.VerificationRequestPayload) (*Outcome, error) {
	if req.IncidentID == "" {
		return nil, errors.NewInvalidInputf("verification request without incident id")
	}

	unlock := v.locks.Lock(req.IncidentID)
	defer unlock()

	incident, err := v.store.GetIncident(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}

	original := v.checkOriginal(ctx, req.CredentialID)

	ev := v.releaseFor(incident, req.Release)
	analysis := v.engine.Analyze(ev)

	var confirmed []types.RiskIndicator
	for _, ind := range analysis.Indicators {
		if ind.Confidence >= v.config.ConfirmationThreshold {
			confirmed = append(confirmed, ind)
		}
	}
	verified := len(confirmed) > 0

	target := types.StatusFalsePositive
	verdictType := credential.FalsePositive
	verdict := attestation.VerdictFalsePositive
	if verified {
		target = types.StatusVerified
		verdictType = credential.VerifiedIncident
		verdict = attestation.VerdictVerified
	}

	if !compatible(incident.Status, target) {
		return nil, errors.NewConflictf("incident %s is already %s, refusing %s verdict",
			incident.ID, incident.Status, verdict)
	}

	outcome := &Outcome{
		IncidentID: incident.ID,
		Verified:   verified,
		Verdict:    verdict,
		Confirmed:  confirmed,
		Original:   original,
		Notes:      verificationNotes(confirmed, v.config.ConfirmationThreshold),
	}
	if outcome.Confirmed == nil {
		outcome.Confirmed = []types.RiskIndicator{}
	}

	verdictCred, err := v.findOrIssueVerdict(ctx, incident, verdictType, attestation.VerdictInput{
		Verified:             verified,
		Indicators:           analysis.Indicators,
		Threshold:            v.config.ConfirmationThreshold,
		OriginalCredentialID: req.CredentialID,
		Original:             original,
	})
	if err != nil {
		return nil, err
	}
	outcome.VerdictCredentialID = verdictCred.ID

	status := incident.Status
	if incident.Status != target && !(incident.Status == types.StatusMitigated && target == types.StatusVerified) {
		updated, err := v.store.UpdateIncidentStatus(ctx, incident.ID, target)
		if err != nil {
			return nil, err
		}
		status = updated.Status
		observability.GetMetrics().Verdicts.WithLabelValues(verdict).Inc()
	}
	outcome.Status = status

	v.logger.Info("incident verdict",
		"incident_id", incident.ID,
		"package", incident.PackageName,
		"version", incident.Version,
		"verdict", verdict,
		"confirmed", len(confirmed),
		"original_signature_valid", original.SignatureValid,
		"original_issuer_trusted", original.IssuerTrusted,
		"credential_id", verdictCred.ID)

	if err := v.attest(ctx, incident, verified, outcome); err != nil {
		return nil, err
	}

	v.notify(ctx, incident, outcome)
	return outcome, nil
}

// compatible reports whether an incident in status current can accept a
// verdict moving it to target.
func compatible(current, target types.IncidentStatus) bool {
	switch current {
	case types.StatusDetected:
		return true
	case types.StatusMitigated:
		return target == types.StatusVerified
	default:
		return current == target
	}
}

func (v *Verifier) checkOriginal(ctx context.Context, credentialID string) credential.VerificationResult {
	metrics := observability.GetMetrics()

	if credentialID == "" {
		metrics.CredentialVerifications.WithLabelValues("missing").Inc()
		return credential.VerificationResult{Reason: "no original credential referenced"}
	}
	original, err := v.store.GetCredential(ctx, credentialID)
	if err != nil {
		metrics.CredentialVerifications.WithLabelValues("missing").Inc()
		return credential.VerificationResult{Reason: fmt.Sprintf("original credential unavailable: %v", err)}
	}

	res := v.checker.Verify(ctx, original)
	switch {
	case !res.SignatureValid:
		metrics.CredentialVerifications.WithLabelValues("invalid_signature").Inc()
	case !res.IssuerTrusted:
		metrics.CredentialVerifications.WithLabelValues("untrusted").Inc()
	default:
		metrics.CredentialVerifications.WithLabelValues("valid").Inc()
	}
	if original.Type != credential.RiskFinding {
		res.IssuerTrusted = false
		res.Reason = fmt.Sprintf("original credential is %s, not %s", original.Type, credential.RiskFinding)
	}
	return res
}

// releaseFor decodes the release carried by the request. The incident's
// package and version always win.
func (v *Verifier) releaseFor(incident *types.Incident, raw json.RawMessage) types.ReleaseEvent {
	var ev types.ReleaseEvent
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			v.logger.Warn("undecodable release in verification request",
				"incident_id", incident.ID,
				"error", err)
			ev = types.ReleaseEvent{}
		}
	}
	ev.PackageName = incident.PackageName
	ev.Version = incident.Version
	return ev
}

func (v *Verifier) findOrIssueVerdict(ctx context.Context, incident *types.Incident, t credential.Type, in attestation.VerdictInput) (*credential.Credential, error) {
	existing, err := v.store.QueryCredentials(ctx, statestore.CredentialFilter{
		IncidentID: incident.ID,
		Type:       t,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		v.logger.Debug("verdict already recorded", "incident_id", incident.ID, "credential_id", existing[0].ID)
		return existing[0], nil
	}

	cred, err := v.attestor.Verdict(incident, in)
	if err != nil {
		return nil, err
	}
	if err := v.store.AppendCredential(ctx, cred); err != nil {
		return nil, err
	}
	observability.GetMetrics().CredentialsIssued.WithLabelValues(string(cred.Type)).Inc()
	return cred, nil
}

func (v *Verifier) attest(ctx context.Context, incident *types.Incident, verified bool, outcome *Outcome) error {
	version := incident.Version
	status := attestation.StatusPassed
	ttl := v.config.FalsePositiveTTL
	reason := fmt.Sprintf("Verifier found no indicator at or above confidence %.2f for %s",
		v.config.ConfirmationThreshold, types.PackageKey(incident.PackageName, incident.Version))

	if verified {
		prev, ok := types.PreviousVersion(incident.Version)
		if !ok {
			v.logger.Info("no rollback target, skipping attestation",
				"incident_id", incident.ID,
				"version", incident.Version)
			return nil
		}
		// never vouch for a rollback target that is itself under investigation
		blocking, err := v.store.FindOpenIncident(ctx, incident.PackageName, prev)
		switch {
		case err == nil:
			v.logger.Warn("rollback target has an open incident, skipping attestation",
				"incident_id", incident.ID,
				"version", prev,
				"blocking_incident_id", blocking.ID)
			return nil
		case !errors.IsNotFound(err):
			return err
		}
		version = prev
		status = attestation.StatusRollbackTarget
		ttl = v.config.AttestationTTL
		reason = fmt.Sprintf("Rollback target for verified incident %s on %s",
			incident.ID, types.PackageKey(incident.PackageName, incident.Version))
	}

	cred, err := v.findOrIssueAttestation(ctx, incident, version, status, reason, ttl)
	if err != nil {
		return err
	}
	outcome.AttestationID = cred.ID
	outcome.AttestationVersion = version
	return nil
}

// findOrIssueAttestation reuses an unexpired attestation this verifier
// already issued for packageName@version.
func (v *Verifier) findOrIssueAttestation(ctx context.Context, incident *types.Incident, version, status, reason string, ttl time.Duration) (*credential.Credential, error) {
	existing, err := v.store.QueryCredentials(ctx, statestore.CredentialFilter{
		PackageName: incident.PackageName,
		Version:     version,
		Type:        credential.SafeToUseAttestation,
		Issuer:      v.identity,
	})
	if err != nil {
		return nil, err
	}
	now := v.now()
	for _, c := range existing {
		if !credential.Expired(c, now) {
			return c, nil
		}
	}

	cred, err := v.attestor.SafeToUse(incident.PackageName, version, incident.ID, status, reason, now, ttl)
	if err != nil {
		return nil, err
	}
	if err := v.store.AppendCredential(ctx, cred); err != nil {
		return nil, err
	}
	observability.GetMetrics().CredentialsIssued.WithLabelValues(string(cred.Type)).Inc()
	return cred, nil
}

// notify tells CI agents about the verdict and, for verified incidents,
// asks patch planners for a plan. Delivery failures are logged only: the
// verdict is already recorded.
func (v *Verifier) notify(ctx context.Context, incident *types.Incident, outcome *Outcome) {
	result := transport.VerificationResultPayload{
		IncidentID:         incident.ID,
		PackageName:        incident.PackageName,
		Version:            incident.Version,
		Verdict:            outcome.Verdict,
		CredentialID:       outcome.VerdictCredentialID,
		AttestationID:      outcome.AttestationID,
		AttestationVersion: outcome.AttestationVersion,
	}
	if n, err := v.broadcaster.Broadcast(ctx, registry.CapCIPolicy, transport.VerificationResult, result); err != nil {
		v.logger.Error("failed to deliver verification result", "incident_id", incident.ID, "delivered", n, "error", err)
	}

	if !outcome.Verified {
		return
	}
	patch := transport.PatchRequestPayload{
		IncidentID:  incident.ID,
		PackageName: incident.PackageName,
		Version:     incident.Version,
	}
	if n, err := v.broadcaster.Broadcast(ctx, registry.CapPatchPlanner, transport.PatchRequest, patch); err != nil {
		v.logger.Error("failed to deliver patch request", "incident_id", incident.ID, "delivered", n, "error", err)
	}
}

func verificationNotes(confirmed []types.RiskIndicator, threshold float64) string {
	if len(confirmed) == 0 {
		return fmt.Sprintf("No indicators confirmed at confidence >= %.2f", threshold)
	}
	notes := make([]string, 0, len(confirmed))
	for _, ind := range confirmed {
		notes = append(notes, fmt.Sprintf("Confirmed %s: %s", ind.Type, ind.Description))
	}
	return strings.Join(notes, "; ")
}
