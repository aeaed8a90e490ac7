package detection

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/daimoniac/swarmshield/internal/types"
)

var (
	base64Run    = regexp.MustCompile(`[A-Za-z0-9+/]{100,}={0,2}`)
	hexRun       = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){21,}`)
	unicodeRun   = regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){11,}`)
	evalCall     = regexp.MustCompile(`\beval\s*\(`)
	functionCtor = regexp.MustCompile(`new\s+Function\s*\(`)
	opaqueRun    = regexp.MustCompile(`\S{100,}`)
)

const (
	maxEvalCalls       = 3
	maxFunctionCtors   = 2
	entropyThreshold   = 4.5
	densityThreshold   = 0.3
	obfuscationCeiling = 0.9
)

// checkSourceFiles emits at most one obfuscation indicator per file.
func checkSourceFiles(files map[string]string) []types.RiskIndicator {
	var indicators []types.RiskIndicator
	for _, path := range sortedKeys(files) {
		if ind, ok := checkObfuscation(path, files[path]); ok {
			indicators = append(indicators, ind)
		}
	}
	return indicators
}

func checkObfuscation(path, content string) (types.RiskIndicator, bool) {
	if content == "" {
		return types.RiskIndicator{}, false
	}

	var signals []string
	encoded := 0

	if matches := base64Run.FindAllString(content, -1); len(matches) > 0 {
		signals = append(signals, fmt.Sprintf("%d base64-like string(s)", len(matches)))
		encoded += totalLen(matches)
	}
	if matches := hexRun.FindAllString(content, -1); len(matches) > 0 {
		signals = append(signals, "hex-encoded sequences")
		encoded += totalLen(matches)
	}
	if matches := unicodeRun.FindAllString(content, -1); len(matches) > 0 {
		signals = append(signals, "unicode escape sequences")
		encoded += totalLen(matches)
	}
	if n := len(evalCall.FindAllStringIndex(content, -1)); n > maxEvalCalls {
		signals = append(signals, fmt.Sprintf("excessive eval usage (%d)", n))
	}
	if n := len(functionCtor.FindAllStringIndex(content, -1)); n > maxFunctionCtors {
		signals = append(signals, fmt.Sprintf("excessive Function constructor usage (%d)", n))
	}
	for _, run := range opaqueRun.FindAllString(content, -1) {
		if ShannonEntropy(run) >= entropyThreshold {
			signals = append(signals, "high-entropy blob")
			break
		}
	}

	if len(signals) == 0 {
		return types.RiskIndicator{}, false
	}

	confidence := 0.5 + 0.15*float64(len(signals))
	if float64(encoded)/float64(len(content)) >= densityThreshold {
		confidence += 0.1
	}
	confidence = math.Min(confidence, obfuscationCeiling)

	return types.RiskIndicator{
		Type:        TypeObfuscatedCode,
		Description: fmt.Sprintf("%s: %s", path, strings.Join(signals, "; ")),
		Confidence:  confidence,
		Evidence:    EvidenceHash(content),
	}, true
}

// ShannonEntropy returns the bits per byte of s.
func ShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func totalLen(matches []string) int {
	n := 0
	for _, m := range matches {
		n += len(m)
	}
	return n
}
