// Package statestore persists incidents, credentials, scanned releases and
// patch plans. It is the only mutable state shared between agents.
package statestore

import (
	"context"
	"sync"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/types"
)

// DefaultQueryLimit caps list queries that do not set a limit.
const DefaultQueryLimit = 500

// StateStore defines the interface for persisting and querying incidents
// and the credentials that reference them
type StateStore interface {
	// CreateIncident inserts a new incident. Duplicate ids are a conflict.
	CreateIncident(ctx context.Context, inc *types.Incident) error

	// GetIncident returns an incident with the ids of every credential
	// whose subject references it
	GetIncident(ctx context.Context, id string) (*types.Incident, error)

	// FindOpenIncident returns the newest blocking incident for a package
	// version, or a not-found error
	FindOpenIncident(ctx context.Context, packageName, version string) (*types.Incident, error)

	// UpdateIncidentStatus moves an incident forward. Re-applying the
	// current status is a no-op; any transition not allowed by
	// types.CanTransition fails with a conflict error.
	UpdateIncidentStatus(ctx context.Context, id string, status types.IncidentStatus) (*types.Incident, error)

	// QueryIncidents lists incidents oldest first
	QueryIncidents(ctx context.Context, filter IncidentFilter) ([]*types.Incident, error)

	// AppendCredential stores a credential exactly as issued. Credentials
	// are immutable; a second append with the same id is a conflict.
	AppendCredential(ctx context.Context, c *credential.Credential) error

	// GetCredential returns a stored credential
	GetCredential(ctx context.Context, id string) (*credential.Credential, error)

	// QueryCredentials lists credentials in append order
	QueryCredentials(ctx context.Context, filter CredentialFilter) ([]*credential.Credential, error)

	// RecordRelease marks a release as scanned
	RecordRelease(ctx context.Context, ev types.ReleaseEvent) error

	// ReleaseScanned reports whether RecordRelease was called for the key
	ReleaseScanned(ctx context.Context, packageName, version string) (bool, error)

	// SavePatchPlan stores a plan unless one exists for the incident, and
	// returns whichever plan is stored
	SavePatchPlan(ctx context.Context, plan *types.PatchPlan) (*types.PatchPlan, error)

	GetPatchPlan(ctx context.Context, id string) (*types.PatchPlan, error)

	ListPatchPlans(ctx context.Context, filter PatchPlanFilter) ([]*types.PatchPlan, error)

	// UpdatePatchPlanStatus moves a plan from proposed to accepted
	UpdatePatchPlanStatus(ctx context.Context, id string, status types.PatchPlanStatus) (*types.PatchPlan, error)

	CountIncidentsByStatus(ctx context.Context) (map[types.IncidentStatus]int, error)

	CountCredentialsByType(ctx context.Context) (map[credential.Type]int, error)

	// Ping checks the underlying database connection
	Ping(ctx context.Context) error

	Close() error
}

// IncidentFilter defines criteria for listing incidents
type IncidentFilter struct {
	PackageName string
	Version     string
	Status      types.IncidentStatus
	Limit       int
	Offset      int
}

// CredentialFilter defines criteria for listing credentials
type CredentialFilter struct {
	PackageName string
	Version     string
	IncidentID  string
	Type        credential.Type
	Issuer      string
	Limit       int
	Offset      int
}

// PatchPlanFilter defines criteria for listing patch plans
type PatchPlanFilter struct {
	IncidentID string
	Status     types.PatchPlanStatus
	Limit      int
	Offset     int
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > DefaultQueryLimit {
		return DefaultQueryLimit
	}
	return limit
}

// checkTransition decides what an incident status write does. It returns
// noop when the incident already has the target status.
func checkTransition(id string, current, target types.IncidentStatus) (noop bool, err error) {
	if !target.Valid() {
		return false, errors.NewInvalidInputf("unknown incident status %q", target)
	}
	if current == target {
		return true, nil
	}
	if !types.CanTransition(current, target) {
		return false, errors.NewConflictf("incident %s cannot move from %s to %s", id, current, target)
	}
	return false, nil
}

func checkPlanTransition(id string, current, target types.PatchPlanStatus) (noop bool, err error) {
	if target != types.PlanProposed && target != types.PlanAccepted {
		return false, errors.NewInvalidInputf("unknown patch plan status %q", target)
	}
	if current == target {
		return true, nil
	}
	if current != types.PlanProposed || target != types.PlanAccepted {
		return false, errors.NewConflictf("patch plan %s cannot move from %s to %s", id, current, target)
	}
	return false, nil
}

func validateIncident(inc *types.Incident) error {
	switch {
	case inc == nil:
		return errors.NewInvalidInputf("incident is nil")
	case inc.ID == "":
		return errors.NewInvalidInputf("incident id is required")
	case inc.PackageName == "" || inc.Version == "":
		return errors.NewInvalidInputf("incident %s: package name and version are required", inc.ID)
	case !inc.Status.Valid():
		return errors.NewInvalidInputf("incident %s: unknown status %q", inc.ID, inc.Status)
	}
	if _, ok := types.ParseSeverity(string(inc.Severity)); !ok {
		return errors.NewInvalidInputf("incident %s: unknown severity %q", inc.ID, inc.Severity)
	}
	return nil
}

func validateCredential(c *credential.Credential) error {
	switch {
	case c == nil:
		return errors.NewInvalidInputf("credential is nil")
	case c.ID == "":
		return errors.NewInvalidInputf("credential id is required")
	case !c.Type.Valid():
		return errors.NewInvalidInputf("credential %s: unknown type %q", c.ID, c.Type)
	}
	return nil
}

func validatePlan(p *types.PatchPlan) error {
	switch {
	case p == nil:
		return errors.NewInvalidInputf("patch plan is nil")
	case p.ID == "" || p.IncidentID == "":
		return errors.NewInvalidInputf("patch plan id and incident id are required")
	}
	return nil
}

// KeyedMutex serialises work per key. Unused keys are released.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
