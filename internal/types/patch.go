package types

import "time"

// PatchAction is the remediation strategy of a plan.
type PatchAction string

const (
	ActionReplace  PatchAction = "replace"
	ActionRollback PatchAction = "rollback"
	ActionRemove   PatchAction = "remove"
)

// PatchPlanStatus tracks whether a plan has been applied.
type PatchPlanStatus string

const (
	PlanProposed PatchPlanStatus = "proposed"
	PlanAccepted PatchPlanStatus = "accepted"
)

// PatchPlan is a proposed remediation for a verified incident.
type PatchPlan struct {
	ID                 string          `json:"id"`
	IncidentID         string          `json:"incidentId"`
	PackageName        string          `json:"packageName"`
	CurrentVersion     string          `json:"currentVersion"`
	RecommendedVersion string          `json:"recommendedVersion,omitempty"`
	Action             PatchAction     `json:"action"`
	Steps              []string        `json:"steps"`
	Status             PatchPlanStatus `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}
