// Package detection runs the static heuristics that turn a release event
// into risk indicators. The engine is deterministic and never fails: a
// check that panics is logged and contributes nothing.
package detection

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/daimoniac/swarmshield/internal/types"
)

// Indicator types.
const (
	TypeTyposquat        = "typosquat"
	TypeSuspiciousScript = "suspicious_script"
	TypeObfuscatedCode   = "obfuscated_code"
)

// Result is the outcome of analyzing one release.
type Result struct {
	Indicators    []types.RiskIndicator `json:"indicators"`
	Severity      types.Severity        `json:"severity"`
	MaxConfidence float64               `json:"maxConfidence"`
}

// HasFindings reports whether any indicator was emitted.
func (r Result) HasFindings() bool {
	return len(r.Indicators) > 0
}

// Engine holds the popular-package set used by the typosquat check.
type Engine struct {
	popular    []string
	popularSet map[string]struct{}
	knownSet   map[string]struct{}
	logger     *slog.Logger
}

// NewEngine creates an engine with the default popular packages plus extra.
func NewEngine(extraPopular []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	set := make(map[string]struct{}, len(DefaultPopularPackages)+len(extraPopular))
	for _, p := range DefaultPopularPackages {
		set[p] = struct{}{}
	}
	for _, p := range extraPopular {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			set[p] = struct{}{}
		}
	}

	popular := make([]string, 0, len(set))
	for p := range set {
		popular = append(popular, p)
	}
	sort.Strings(popular)

	known := make(map[string]struct{}, len(DefaultKnownPackages))
	for _, p := range DefaultKnownPackages {
		known[p] = struct{}{}
	}

	return &Engine{
		popular:    popular,
		popularSet: set,
		knownSet:   known,
		logger:     logger,
	}
}

// PopularPackages returns the sorted popular-package set.
func (e *Engine) PopularPackages() []string {
	return append([]string(nil), e.popular...)
}

// Analyze runs every check against ev. Indicator order is typosquat, then
// scripts by name, then source files by path.
func (e *Engine) Analyze(ev types.ReleaseEvent) Result {
	var indicators []types.RiskIndicator

	e.guard("typosquat", ev, func() {
		if ind, ok := e.checkTyposquat(ev.PackageName); ok {
			indicators = append(indicators, ind)
		}
	})
	e.guard("scripts", ev, func() {
		indicators = append(indicators, checkScripts(ev.LifecycleScripts)...)
	})
	e.guard("obfuscation", ev, func() {
		indicators = append(indicators, checkSourceFiles(ev.SourceFiles)...)
	})

	return Result{
		Indicators:    indicators,
		Severity:      DetermineSeverity(indicators),
		MaxConfidence: types.MaxConfidence(indicators),
	}
}

func (e *Engine) guard(check string, ev types.ReleaseEvent, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("detection check panicked",
				"check", check,
				"package", ev.PackageName,
				"version", ev.Version,
				"panic", r)
		}
	}()
	fn()
}

// DetermineSeverity maps indicators to a severity.
func DetermineSeverity(indicators []types.RiskIndicator) types.Severity {
	if len(indicators) == 0 {
		return types.SeverityLow
	}

	max := types.MaxConfidence(indicators)
	var typosquat, script, obfuscated bool
	for _, ind := range indicators {
		switch ind.Type {
		case TypeTyposquat:
			typosquat = true
		case TypeSuspiciousScript:
			script = true
		case TypeObfuscatedCode:
			obfuscated = true
		}
	}

	switch {
	case max >= 0.85 && (typosquat || script):
		return types.SeverityCritical
	case max >= 0.7 || script:
		return types.SeverityHigh
	case max >= 0.5 || obfuscated:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// EvidenceHash returns the hex SHA-256 of the inspected material.
func EvidenceHash(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
