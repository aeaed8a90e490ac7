package types

import (
	"time"
)

// Severity ranks an incident. Values are the wire strings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, higher is worse. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity returns the severity for a case-sensitive wire value.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(s)
	return sev, sev.Rank() > 0
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	StatusDetected      IncidentStatus = "detected"
	StatusVerified      IncidentStatus = "verified"
	StatusFalsePositive IncidentStatus = "false_positive"
	StatusMitigated     IncidentStatus = "mitigated"
)

// Valid reports whether s is one of the four lifecycle states.
func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusDetected, StatusVerified, StatusFalsePositive, StatusMitigated:
		return true
	}
	return false
}

// Blocking reports whether an incident in this state gates CI.
func (s IncidentStatus) Blocking() bool {
	return s == StatusDetected || s == StatusVerified
}

// Terminal reports whether a verifier verdict has been recorded.
func (s IncidentStatus) Terminal() bool {
	return s == StatusVerified || s == StatusFalsePositive || s == StatusMitigated
}

// CanTransition reports whether from -> to is a forward lifecycle step.
//
//	detected -> verified | false_positive
//	verified -> mitigated
//
// Re-applying the current status is not a transition and returns false.
func CanTransition(from, to IncidentStatus) bool {
	switch from {
	case StatusDetected:
		return to == StatusVerified || to == StatusFalsePositive
	case StatusVerified:
		return to == StatusMitigated
	}
	return false
}

// RiskIndicator is a single finding emitted by a detection check.
type RiskIndicator struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Evidence    string  `json:"evidence,omitempty"`
}

// Incident is one detected anomaly for a (package, version) pair.
type Incident struct {
	ID            string          `json:"id"`
	PackageName   string          `json:"packageName"`
	Version       string          `json:"version"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Severity      Severity        `json:"severity"`
	Status        IncidentStatus  `json:"status"`
	Indicators    []RiskIndicator `json:"indicators"`
	ProjectIDs    []string        `json:"projectIds,omitempty"`
	CredentialIDs []string        `json:"credentialIds,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// MaxConfidence returns the highest indicator confidence, 0 for none.
func MaxConfidence(indicators []RiskIndicator) float64 {
	max := 0.0
	for _, ind := range indicators {
		if ind.Confidence > max {
			max = ind.Confidence
		}
	}
	return max
}
