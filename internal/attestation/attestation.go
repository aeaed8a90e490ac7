// Package attestation builds the claims carried by each credential type and
// issues them through a credential codec on behalf of one agent identity.
package attestation

import (
	"log/slog"
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Verdict values recorded in verdict claims.
const (
	VerdictVerified      = "verified"
	VerdictFalsePositive = "false_positive"
)

// Scan status values of an assessment.
const (
	StatusPassed         = "passed"
	StatusRollbackTarget = "rollback-target"
)

// Issuer is the subset of the credential codec used to sign claims.
type Issuer interface {
	Issue(t credential.Type, issuer string, subject credential.Subject, claims map[string]interface{}, ttl time.Duration) (*credential.Credential, error)
}

// Attestor issues credentials for a single agent identity.
type Attestor struct {
	issuer   Issuer
	identity string
	logger   *slog.Logger
}

// NewAttestor creates an attestor signing as identity.
func NewAttestor(issuer Issuer, identity string, logger *slog.Logger) *Attestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attestor{
		issuer:   issuer,
		identity: identity,
		logger:   logger,
	}
}

// Identity returns the identity credentials are issued as.
func (a *Attestor) Identity() string {
	return a.identity
}

// RiskFinding issues the scanner's finding for an incident.
func (a *Attestor) RiskFinding(incident *types.Incident) (*credential.Credential, error) {
	claims := RiskFindingClaims(incident.Indicators, incident.Severity)
	cred, err := a.issuer.Issue(credential.RiskFinding, a.identity, subjectOf(incident), claims, 0)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("issued risk finding",
		"credential_id", cred.ID,
		"incident_id", incident.ID,
		"severity", incident.Severity)

	return cred, nil
}

// Verdict issues VerifiedIncident or FalsePositive depending on v.Verified.
func (a *Attestor) Verdict(incident *types.Incident, v VerdictInput) (*credential.Credential, error) {
	t := credential.FalsePositive
	if v.Verified {
		t = credential.VerifiedIncident
	}

	cred, err := a.issuer.Issue(t, a.identity, subjectOf(incident), VerdictClaims(v), 0)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("issued verdict",
		"credential_id", cred.ID,
		"incident_id", incident.ID,
		"type", t)

	return cred, nil
}

// SafeToUse issues a time-boxed attestation for packageName@version.
func (a *Attestor) SafeToUse(packageName, version, incidentID, status, reason string, issuedAt time.Time, ttl time.Duration) (*credential.Credential, error) {
	claims := SafeToUseClaims(packageName, version, status, reason, issuedAt, ttl)
	subject := credential.Subject{
		PackageName: packageName,
		Version:     version,
		IncidentID:  incidentID,
	}

	cred, err := a.issuer.Issue(credential.SafeToUseAttestation, a.identity, subject, claims, ttl)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("issued safe-to-use attestation",
		"credential_id", cred.ID,
		"package", packageName,
		"version", version,
		"valid_until", cred.ExpiresAt)

	return cred, nil
}

func subjectOf(incident *types.Incident) credential.Subject {
	return credential.Subject{
		PackageName: incident.PackageName,
		Version:     incident.Version,
		IncidentID:  incident.ID,
	}
}
