package detection

import (
	"fmt"
	"regexp"

	"github.com/daimoniac/swarmshield/internal/types"
)

// InstallScripts are the lifecycle hooks npm runs on install or publish.
var InstallScripts = []string{"preinstall", "install", "postinstall", "prepublish", "prepare"}

type scriptClass struct {
	name       string
	confidence float64
	patterns   []*regexp.Regexp
}

var scriptClasses = []scriptClass{
	{
		name:       "network_fetch",
		confidence: 0.85,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(curl|wget)\s+`),
			regexp.MustCompile(`(?i)\b(fetch|get|request)\s*\(\s*['"` + "`" + `]https?://`),
		},
	},
	{
		name:       "remote_shell",
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\|\s*(ba|z)?sh\b`),
			regexp.MustCompile(`(?i)\.sh(\s|$|['"])`),
			regexp.MustCompile(`(?i)\bnode\s+-e\b`),
			regexp.MustCompile(`(?i)\bpython3?\s+-c\b`),
		},
	},
	{
		name:       "credential_harvest",
		confidence: 0.9,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.npmrc`),
			regexp.MustCompile(`NPM_TOKEN`),
			regexp.MustCompile(`\bAWS_[A-Z_]+`),
			regexp.MustCompile(`(~|\$HOME)/\.ssh`),
			regexp.MustCompile(`JSON\.stringify\(\s*process\.env\s*\)`),
			regexp.MustCompile(`\bprintenv\b`),
		},
	},
	{
		name:       "dynamic_eval",
		confidence: 0.75,
		patterns:   []*regexp.Regexp{regexp.MustCompile(`\beval\s*\(`)},
	},
	{
		name:       "encoded_payload",
		confidence: 0.7,
		patterns:   []*regexp.Regexp{regexp.MustCompile(`(?i)base64`)},
	},
}

const (
	longScriptThreshold  = 200
	longScriptConfidence = 0.5
	excerptLength        = 100
)

// checkScripts emits one indicator per (script, class) match. A long
// script with no other match gets a single weak indicator.
func checkScripts(scripts map[string]string) []types.RiskIndicator {
	var indicators []types.RiskIndicator

	for _, hook := range InstallScripts {
		body, ok := scripts[hook]
		if !ok || body == "" {
			continue
		}

		matched := false
		for _, class := range scriptClasses {
			if !matchesAny(class.patterns, body) {
				continue
			}
			matched = true
			indicators = append(indicators, types.RiskIndicator{
				Type:        TypeSuspiciousScript,
				Description: fmt.Sprintf("%s script %s: %s", hook, class.name, excerpt(body)),
				Confidence:  class.confidence,
				Evidence:    EvidenceHash(body),
			})
		}

		if !matched && len(body) > longScriptThreshold {
			indicators = append(indicators, types.RiskIndicator{
				Type:        TypeSuspiciousScript,
				Description: fmt.Sprintf("%s script long_script (%d chars)", hook, len(body)),
				Confidence:  longScriptConfidence,
				Evidence:    EvidenceHash(body),
			})
		}
	}

	return indicators
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptLength {
		return s
	}
	return string(r[:excerptLength]) + "..."
}
