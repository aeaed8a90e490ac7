// Package credential defines the signed trust artifacts exchanged between
// agents and the codec that issues and verifies them.
package credential

import (
	"strings"
	"time"
)

// Type is the closed set of credential kinds. Values are the wire names.
type Type string

const (
	RiskFinding          Type = "RiskFindingCredential"
	VerifiedIncident     Type = "VerifiedIncidentCredential"
	FalsePositive        Type = "FalsePositiveCredential"
	SafeToUseAttestation Type = "SafeToUseAttestation"
)

// AllTypes lists every credential type in a stable order.
var AllTypes = []Type{RiskFinding, VerifiedIncident, FalsePositive, SafeToUseAttestation}

// Valid reports whether t is a known credential type.
func (t Type) Valid() bool {
	switch t {
	case RiskFinding, VerifiedIncident, FalsePositive, SafeToUseAttestation:
		return true
	}
	return false
}

// ParseType accepts the wire name or the short form ("RiskFinding").
func ParseType(s string) (Type, bool) {
	t := Type(s)
	if t.Valid() {
		return t, true
	}
	for _, known := range AllTypes {
		if strings.TrimSuffix(string(known), "Credential") == s {
			return known, true
		}
	}
	return "", false
}

// Subject references the package version a credential speaks about.
type Subject struct {
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
	IncidentID  string `json:"incidentId,omitempty"`
}

// Proof carries the keyed signature over the canonical payload.
type Proof struct {
	Algorithm          string `json:"algorithm"`
	VerificationKeyRef string `json:"verificationKeyRef"`
	Signature          string `json:"signature"`
}

// Credential is a signed, write-once trust artifact. Any change to a field
// invalidates Proof; corrections are issued as new credentials.
type Credential struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	IssuerIdentity string                 `json:"issuerIdentity"`
	Subject        Subject                `json:"subject"`
	IssuedAt       time.Time              `json:"issuedAt"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"`
	Claims         map[string]interface{} `json:"claims"`
	Proof          Proof                  `json:"proof"`
}

// VerificationResult reports the two independent verification outcomes.
// Expiry is deliberately absent; see Expired.
type VerificationResult struct {
	SignatureValid bool   `json:"signatureValid"`
	IssuerTrusted  bool   `json:"issuerTrusted"`
	Reason         string `json:"reason"`
}

// Expired reports whether c is past its expiresAt at the given instant.
// Credentials without an expiry never expire.
func Expired(c *Credential, at time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return !at.Before(*c.ExpiresAt)
}

// KeyRef returns the verification key reference for an identity.
func KeyRef(identity string) string {
	return identity + "#key-1"
}

// IdentityFromKeyRef strips the key fragment from a verification key ref.
func IdentityFromKeyRef(ref string) string {
	if idx := strings.LastIndex(ref, "#"); idx != -1 {
		return ref[:idx]
	}
	return ref
}
