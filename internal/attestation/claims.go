package attestation

import (
	"sort"
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Assessment is the package security assessment embedded in
// SafeToUseAttestation claims.
type Assessment struct {
	Attribute string             `json:"attribute"`
	Target    AssessmentTarget   `json:"target"`
	Evidence  AssessmentEvidence `json:"evidence"`
}

// AssessmentTarget identifies the package version in PURL form.
type AssessmentTarget struct {
	URI string `json:"uri"` // pkg:npm/name@version
}

// AssessmentEvidence records when the assessment happened and how long it holds.
type AssessmentEvidence struct {
	LastScanned time.Time `json:"lastScanned"`
	ValidUntil  time.Time `json:"validUntil"`
	ScanStatus  string    `json:"scanStatus"`
}

// VerdictInput carries the verifier's findings into verdict claims.
type VerdictInput struct {
	Verified             bool
	Indicators           []types.RiskIndicator
	Threshold            float64
	OriginalCredentialID string
	Original             credential.VerificationResult
}

// PURL converts an npm package name and version to a package URL. Scoped
// names keep their scope as the namespace with the @ percent-encoded.
func PURL(packageName, version string) string {
	name := packageName
	if len(name) > 0 && name[0] == '@' {
		name = "%40" + name[1:]
	}
	return "pkg:npm/" + name + "@" + version
}

// ValidUntil returns the end of the validity window for an attestation
// issued at issuedAt.
func ValidUntil(issuedAt time.Time, ttl time.Duration) time.Time {
	return issuedAt.Add(ttl)
}

// RiskFindingClaims builds the scanner claims: reasons, confidence,
// evidence_hashes, severity and indicator_types.
func RiskFindingClaims(indicators []types.RiskIndicator, severity types.Severity) map[string]interface{} {
	reasons := make([]string, 0, len(indicators))
	hashes := make([]string, 0, len(indicators))
	typeSet := make(map[string]struct{})

	for _, ind := range indicators {
		reasons = append(reasons, ind.Description)
		if ind.Evidence != "" {
			hashes = append(hashes, ind.Evidence)
		}
		typeSet[ind.Type] = struct{}{}
	}

	indicatorTypes := make([]string, 0, len(typeSet))
	for t := range typeSet {
		indicatorTypes = append(indicatorTypes, t)
	}
	sort.Strings(indicatorTypes)

	return map[string]interface{}{
		"reasons":         reasons,
		"confidence":      types.MaxConfidence(indicators),
		"evidence_hashes": hashes,
		"severity":        string(severity),
		"indicator_types": indicatorTypes,
	}
}

// VerdictClaims records the verifier's decision together with the outcome
// of checking the original finding.
func VerdictClaims(v VerdictInput) map[string]interface{} {
	verdict := VerdictFalsePositive
	if v.Verified {
		verdict = VerdictVerified
	}

	reasons := make([]string, 0, len(v.Indicators))
	for _, ind := range v.Indicators {
		reasons = append(reasons, ind.Description)
	}

	return map[string]interface{}{
		"verdict":                     verdict,
		"confidence":                  types.MaxConfidence(v.Indicators),
		"threshold":                   v.Threshold,
		"reasons":                     reasons,
		"original_credential_id":      v.OriginalCredentialID,
		"original_signature_valid":    v.Original.SignatureValid,
		"original_issuer_trusted":     v.Original.IssuerTrusted,
		"original_verification_notes": v.Original.Reason,
	}
}

// SafeToUseClaims builds the attestation claims with an embedded assessment.
func SafeToUseClaims(packageName, version, status, reason string, issuedAt time.Time, ttl time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"reason": reason,
		"assessment": Assessment{
			Attribute: "package-security-assessment",
			Target:    AssessmentTarget{URI: PURL(packageName, version)},
			Evidence: AssessmentEvidence{
				LastScanned: issuedAt.UTC(),
				ValidUntil:  ValidUntil(issuedAt, ttl).UTC(),
				ScanStatus:  status,
			},
		},
	}
}
