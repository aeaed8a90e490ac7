package api

import (
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/demo"
	"github.com/daimoniac/swarmshield/internal/registry"
)

// CheckRequest asks the gate about one package version
type CheckRequest struct {
	ProjectID   string `json:"projectId"`
	PackageName string `json:"packageName"`
	Version     string `json:"version"`
}

// VerifyCredentialResponse reports signature, trust and expiry separately.
// Expired is informational; signatureValid and issuerTrusted never depend on it.
type VerifyCredentialResponse struct {
	CredentialID   string     `json:"credentialId"`
	SignatureValid bool       `json:"signatureValid"`
	IssuerTrusted  bool       `json:"issuerTrusted"`
	Expired        bool       `json:"expired"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Reason         string     `json:"reason"`
}

func newVerifyCredentialResponse(c *credential.Credential, res credential.VerificationResult, now time.Time) VerifyCredentialResponse {
	return VerifyCredentialResponse{
		CredentialID:   c.ID,
		SignatureValid: res.SignatureValid,
		IssuerTrusted:  res.IssuerTrusted,
		Expired:        credential.Expired(c, now),
		ExpiresAt:      c.ExpiresAt,
		Reason:         res.Reason,
	}
}

// RegisterAgentRequest is the body of an agent registration
type RegisterAgentRequest struct {
	Identity     string                `json:"identity"`
	DisplayName  string                `json:"displayName"`
	Capabilities []registry.Capability `json:"capabilities"`
	Endpoint     string                `json:"endpoint,omitempty"`
}

func (r RegisterAgentRequest) agent() registry.Agent {
	return registry.Agent{
		Identity:     r.Identity,
		DisplayName:  r.DisplayName,
		Capabilities: r.Capabilities,
		Endpoint:     r.Endpoint,
	}
}

// AgentListResponse lists agents with their derived status
type AgentListResponse struct {
	Agents []registry.Agent `json:"agents"`
	Online int              `json:"online"`
}

// CreatePatchPlanRequest asks for the plan of a verified incident
type CreatePatchPlanRequest struct {
	IncidentID string `json:"incidentId"`
}

// AlternativeResponse is one known safe replacement
type AlternativeResponse struct {
	Package     string `json:"package"`
	Replacement string `json:"replacement"`
	Version     string `json:"version"`
}

// ScenarioResponse describes a demo scenario
type ScenarioResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Package     string `json:"package"`
	Version     string `json:"version"`
}

func newScenarioResponse(sc demo.Scenario) ScenarioResponse {
	return ScenarioResponse{
		Name:        sc.Name,
		Description: sc.Description,
		Package:     sc.Release.PackageName,
		Version:     sc.Release.Version,
	}
}

// SeedResponse reports how many demo agents were registered
type SeedResponse struct {
	Registered int `json:"registered"`
}
