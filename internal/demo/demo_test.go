package demo

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/daimoniac/swarmshield/internal/detection"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/scanner"
	"github.com/daimoniac/swarmshield/internal/types"
)

type mockScanner struct {
	got    []types.ReleaseEvent
	result *scanner.Result
	err    error
}

func (m *mockScanner) Scan(ctx context.Context, ev types.ReleaseEvent) (*scanner.Result, error) {
	m.got = append(m.got, ev)
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.PackageName, res.Version = ev.PackageName, ev.Version
	return &res, nil
}

type mockRegistrar struct {
	agents []registry.Agent
	err    error
}

func (m *mockRegistrar) Register(a registry.Agent) (registry.Agent, error) {
	if m.err != nil {
		return registry.Agent{}, m.err
	}
	m.agents = append(m.agents, a)
	return a, nil
}

func TestScenariosAreFlagged(t *testing.T) {
	engine := detection.NewEngine(nil, observability.NewLogger("error"))

	for _, s := range Scenarios() {
		t.Run(s.Name, func(t *testing.T) {
			res := engine.Analyze(s.Release)
			if !res.HasFindings() {
				t.Fatalf("%s produced no indicators", s.Release.Key())
			}
			if res.MaxConfidence < 0.7 {
				t.Errorf("max confidence %.2f below verifier threshold", res.MaxConfidence)
			}
			if prev, _ := types.PreviousVersion(s.Release.Version); prev != s.PreviousVersion {
				t.Errorf("previous version = %q, want %q", prev, s.PreviousVersion)
			}
		})
	}
}

func TestObfuscatedScenarioCarriesSource(t *testing.T) {
	s, err := Lookup("obfuscated")
	if err != nil {
		t.Fatal(err)
	}
	res := detection.NewEngine(nil, observability.NewLogger("error")).Analyze(s.Release)

	found := false
	for _, ind := range res.Indicators {
		if ind.Type == detection.TypeObfuscatedCode {
			found = true
		}
	}
	if !found {
		t.Errorf("no obfuscated_code indicator in %+v", res.Indicators)
	}
}

func TestLookup(t *testing.T) {
	s, err := Lookup("")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != DefaultScenario || s.Release.Source != Source {
		t.Errorf("default scenario = %+v", s)
	}

	// lookups return copies
	s.Release.LifecycleScripts["postinstall"] = "echo ok"
	again, _ := Lookup("")
	if strings.HasPrefix(again.Release.LifecycleScripts["postinstall"], "echo") {
		t.Error("Lookup leaked a shared map")
	}

	if _, err := Lookup("ransomware"); !errors.IsInvalidInput(err) {
		t.Errorf("expected invalid input for unknown scenario, got %v", err)
	}
}

func TestTrigger(t *testing.T) {
	tests := []struct {
		name        string
		req         TriggerRequest
		result      scanner.Result
		wantPackage string
		wantMessage string
	}{
		{
			name:        "new incident",
			req:         TriggerRequest{Scenario: "malicious_scripts", ProjectID: "billing"},
			result:      scanner.Result{Suspicious: true, IncidentID: "inc-1"},
			wantPackage: "express-validator-utils",
			wantMessage: "Triggered malicious_scripts scenario for express-validator-utils@2.3.0",
		},
		{
			name:        "package override",
			req:         TriggerRequest{Scenario: "typosquat", PackageName: "lodahs-utils"},
			result:      scanner.Result{Suspicious: true, IncidentID: "inc-2", Deduplicated: true},
			wantPackage: "lodahs-utils",
			wantMessage: "matches open incident",
		},
		{
			name:        "clean",
			req:         TriggerRequest{Scenario: "obfuscated", PackageName: "react"},
			result:      scanner.Result{},
			wantPackage: "react",
			wantMessage: "no risk indicators found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &mockScanner{result: &tt.result}
			h := New(sc, &mockRegistrar{}, nil, observability.NewLogger("error"))

			res, err := h.Trigger(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Trigger: %v", err)
			}
			if len(sc.got) != 1 {
				t.Fatalf("scanned %d releases", len(sc.got))
			}
			ev := sc.got[0]
			if ev.PackageName != tt.wantPackage || ev.Source != Source || ev.ProjectID != tt.req.ProjectID {
				t.Errorf("release = %+v", ev)
			}
			if res.IncidentID != tt.result.IncidentID {
				t.Errorf("incident id = %q", res.IncidentID)
			}
			if !strings.Contains(res.Message, tt.wantMessage) {
				t.Errorf("message = %q, want %q", res.Message, tt.wantMessage)
			}
		})
	}
}

func TestTriggerErrors(t *testing.T) {
	h := New(&mockScanner{err: errors.NewTransientf("database is locked")}, &mockRegistrar{}, nil, nil)

	if _, err := h.Trigger(context.Background(), TriggerRequest{Scenario: "nope"}); !errors.IsInvalidInput(err) {
		t.Errorf("expected invalid input, got %v", err)
	}
	if _, err := h.Trigger(context.Background(), TriggerRequest{}); !errors.IsTransient(err) {
		t.Errorf("expected scanner error to pass through, got %v", err)
	}
}

func TestSeed(t *testing.T) {
	agents := []registry.Agent{
		{Identity: "did:simulator:scanner", DisplayName: "Scanner Agent", Capabilities: []registry.Capability{registry.CapSecurityScan}},
		{Identity: "did:simulator:ci", DisplayName: "CI Agent", Capabilities: []registry.Capability{registry.CapCIPolicy}},
	}

	reg := &mockRegistrar{}
	n, err := New(&mockScanner{}, reg, agents, nil).Seed(context.Background())
	if err != nil || n != 2 || len(reg.agents) != 2 {
		t.Errorf("Seed = %d, %v (registered %d)", n, err, len(reg.agents))
	}

	failing := &mockRegistrar{err: fmt.Errorf("boom")}
	if _, err := New(&mockScanner{}, failing, agents, nil).Seed(context.Background()); err == nil {
		t.Error("expected registration error")
	}
}
