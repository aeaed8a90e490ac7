// Package scanner implements the scanning agent: it runs detection on a
// release, records an incident with a signed risk finding and asks
// verifiers to re-check it.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

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

// Capabilities advertised by the scanner
var Capabilities = []registry.Capability{registry.CapSecurityScan, registry.CapDependencyAnalysis}

// Store is the part of the state store the scanner writes to
type Store interface {
	CreateIncident(ctx context.Context, inc *types.Incident) error
	FindOpenIncident(ctx context.Context, packageName, version string) (*types.Incident, error)
	AppendCredential(ctx context.Context, c *credential.Credential) error
	QueryCredentials(ctx context.Context, filter statestore.CredentialFilter) ([]*credential.Credential, error)
	RecordRelease(ctx context.Context, ev types.ReleaseEvent) error
	Ping(ctx context.Context) error
}

// Broadcaster routes a message to every agent with a capability
type Broadcaster interface {
	Broadcast(ctx context.Context, c registry.Capability, t transport.MessageType, payload interface{}) (int, error)
}

// Result describes what a scan produced
type Result struct {
	PackageName       string                `json:"packageName"`
	Version           string                `json:"version"`
	Suspicious        bool                  `json:"isSuspicious"`
	Severity          types.Severity        `json:"severity,omitempty"`
	Indicators        []types.RiskIndicator `json:"indicators"`
	IncidentID        string                `json:"incidentId,omitempty"`
	CredentialID      string                `json:"credentialId,omitempty"`
	Deduplicated      bool                  `json:"deduplicated,omitempty"`
	VerifiersNotified int                   `json:"verifiersNotified"`
	DeliveryError     string                `json:"deliveryError,omitempty"`
}

// Scanner is the scanning agent
type Scanner struct {
	identity    string
	displayName string
	engine      *detection.Engine
	attestor    *attestation.Attestor
	store       Store
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a scanner issuing findings through attestor
func New(engine *detection.Engine, attestor *attestation.Attestor, store Store, broadcaster Broadcaster, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		identity:    attestor.Identity(),
		displayName: "Scanner Agent",
		engine:      engine,
		attestor:    attestor,
		store:       store,
		broadcaster: broadcaster,
		logger:      observability.ForAgent(logger, attestor.Identity()),
		now:         time.Now,
	}
}

// Agent returns the registry record for this scanner
func (s *Scanner) Agent() registry.Agent {
	return registry.Agent{
		Identity:     s.identity,
		DisplayName:  s.displayName,
		Capabilities: Capabilities,
	}
}

// HealthCheck reports whether the store is reachable
func (s *Scanner) HealthCheck(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// HandleReleaseEvent scans a release delivered by the watcher
func (s *Scanner) HandleReleaseEvent(ctx context.Context, msg transport.Message) error {
	var ev types.ReleaseEvent
	if err := msg.Decode(&ev); err != nil {
		return errors.NewPermanent(err)
	}
	if ev.Source == "" {
		ev.Source = msg.From
	}
	_, err := s.Scan(ctx, ev)
	return err
}

// Scan analyzes one release. Verification requests go out only after the
// incident and its finding are stored.
func (s *Scanner) Scan(ctx context.Context, ev types.ReleaseEvent) (*Result, error) {
	if ev.PackageName == "" || ev.Version == "" {
		return nil, errors.NewInvalidInputf("release package name and version are required")
	}

	metrics := observability.GetMetrics()
	start := time.Now()
	analysis := s.engine.Analyze(ev)
	metrics.ScanDuration.Observe(time.Since(start).Seconds())
	metrics.ReleasesScanned.Inc()

	result := &Result{
		PackageName: ev.PackageName,
		Version:     ev.Version,
		Indicators:  analysis.Indicators,
	}
	if result.Indicators == nil {
		result.Indicators = []types.RiskIndicator{}
	}

	if !analysis.HasFindings() {
		s.logger.Info("release clean", "package", ev.PackageName, "version", ev.Version)
		if err := s.store.RecordRelease(ctx, ev); err != nil {
			return nil, err
		}
		return result, nil
	}

	for _, ind := range analysis.Indicators {
		metrics.FindingsTotal.WithLabelValues(ind.Type).Inc()
	}
	result.Suspicious = true
	result.Severity = analysis.Severity

	existing, err := s.store.FindOpenIncident(ctx, ev.PackageName, ev.Version)
	switch {
	case err == nil:
		return s.deduplicated(ctx, ev, existing, result)
	case !errors.IsNotFound(err):
		return nil, err
	}

	incident := s.newIncident(ev, analysis)
	if err := s.store.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	metrics.IncidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
	result.IncidentID = incident.ID

	if err := s.issueFinding(ctx, ev, incident, result); err != nil {
		return nil, err
	}

	if err := s.store.RecordRelease(ctx, ev); err != nil {
		return nil, err
	}
	return result, nil
}

// issueFinding signs and stores the RiskFinding for incident, then asks
// verifiers to re-check it.
func (s *Scanner) issueFinding(ctx context.Context, ev types.ReleaseEvent, incident *types.Incident, result *Result) error {
	finding, err := s.attestor.RiskFinding(incident)
	if err != nil {
		return fmt.Errorf("failed to issue risk finding: %w", err)
	}
	if err := s.store.AppendCredential(ctx, finding); err != nil {
		return fmt.Errorf("failed to store risk finding: %w", err)
	}
	observability.GetMetrics().CredentialsIssued.WithLabelValues(string(finding.Type)).Inc()
	result.CredentialID = finding.ID

	s.logger.Info("incident detected",
		"incident_id", incident.ID,
		"package", ev.PackageName,
		"version", ev.Version,
		"severity", incident.Severity,
		"indicators", len(incident.Indicators),
		"credential_id", finding.ID)

	s.requestVerification(ctx, ev, incident, finding, result)
	return nil
}

func (s *Scanner) newIncident(ev types.ReleaseEvent, analysis detection.Result) *types.Incident {
	now := s.now().UTC()
	inc := &types.Incident{
		ID:          uuid.NewString(),
		PackageName: ev.PackageName,
		Version:     ev.Version,
		Title:       fmt.Sprintf("Suspicious package: %s", types.PackageKey(ev.PackageName, ev.Version)),
		Description: fmt.Sprintf("Scanner detected %d risk indicator(s) with %.0f%% confidence",
			len(analysis.Indicators), analysis.MaxConfidence*100),
		Severity:   analysis.Severity,
		Status:     types.StatusDetected,
		Indicators: analysis.Indicators,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ev.ProjectID != "" {
		inc.ProjectIDs = []string{ev.ProjectID}
	}
	return inc
}

// deduplicated reports an already open incident for the same release
// without issuing a second finding or notifying verifiers again, unless
// the incident never got its finding.
func (s *Scanner) deduplicated(ctx context.Context, ev types.ReleaseEvent, existing *types.Incident, result *Result) (*Result, error) {
	result.IncidentID = existing.ID
	result.Severity = existing.Severity
	result.Deduplicated = true

	findings, err := s.store.QueryCredentials(ctx, statestore.CredentialFilter{
		IncidentID: existing.ID,
		Type:       credential.RiskFinding,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(findings) > 0 {
		result.CredentialID = findings[0].ID
	} else if existing.Status == types.StatusDetected {
		// an earlier attempt stored the incident but not its finding
		s.logger.Warn("open incident has no risk finding, issuing it now",
			"incident_id", existing.ID,
			"package", ev.PackageName,
			"version", ev.Version)
		result.Deduplicated = false
		if err := s.issueFinding(ctx, ev, existing, result); err != nil {
			return nil, err
		}
		if err := s.store.RecordRelease(ctx, ev); err != nil {
			return nil, err
		}
		return result, nil
	}

	s.logger.Info("release matches open incident",
		"incident_id", existing.ID,
		"package", ev.PackageName,
		"version", ev.Version,
		"status", existing.Status)

	if err := s.store.RecordRelease(ctx, ev); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Scanner) requestVerification(ctx context.Context, ev types.ReleaseEvent, incident *types.Incident, finding *credential.Credential, result *Result) {
	release, err := json.Marshal(ev)
	if err != nil {
		result.DeliveryError = err.Error()
		return
	}

	sent, err := s.broadcaster.Broadcast(ctx, registry.CapSecurityVerify, transport.VerificationRequest,
		transport.VerificationRequestPayload{
			IncidentID:   incident.ID,
			CredentialID: finding.ID,
			Release:      release,
		})
	result.VerifiersNotified = sent

	if err != nil {
		result.DeliveryError = err.Error()
		s.logger.Error("failed to deliver verification request",
			"incident_id", incident.ID,
			"delivered", sent,
			"error", err)
	}
	if sent == 0 {
		observability.GetMetrics().StuckIncidents.Inc()
		s.logger.Warn("no verifier reached, incident stays detected",
			"incident_id", incident.ID,
			"package", ev.PackageName,
			"version", ev.Version)
	}
}
