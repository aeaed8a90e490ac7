package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/types"
)

var suiteIdentities = []string{credential.ScannerIdentity, credential.VerifierIdentity}

func testCodec() *credential.Codec {
	return credential.NewCodec(
		credential.NewEd25519Scheme([]byte("statestore-test"), suiteIdentities),
		credential.NewStaticTrust(credential.DefaultAllowList(
			[]string{credential.ScannerIdentity}, []string{credential.VerifierIdentity})),
	)
}

func testIncident(id, pkg, version string) *types.Incident {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.Incident{
		ID:          id,
		PackageName: pkg,
		Version:     version,
		Title:       "Suspicious release " + pkg,
		Severity:    types.SeverityCritical,
		Status:      types.StatusDetected,
		Indicators: []types.RiskIndicator{
			{Type: "typosquat", Description: "close to lodash", Confidence: 0.9, Evidence: "abc"},
		},
		ProjectIDs: []string{"web-app"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func issueFinding(t *testing.T, codec *credential.Codec, inc *types.Incident) *credential.Credential {
	t.Helper()
	c, err := codec.Issue(credential.RiskFinding, credential.ScannerIdentity,
		credential.Subject{PackageName: inc.PackageName, Version: inc.Version, IncidentID: inc.ID},
		map[string]interface{}{"confidence": 0.9, "reasons": []string{"typosquat"}}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return c
}

// runStoreSuite exercises the StateStore contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) StateStore) {
	ctx := context.Background()

	t.Run("IncidentLifecycle", func(t *testing.T) {
		store := newStore(t)
		inc := testIncident("inc-1", "lodash-utils", "1.0.1")
		if err := store.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("CreateIncident: %v", err)
		}
		if err := store.CreateIncident(ctx, inc); !errors.IsConflict(err) {
			t.Errorf("expected conflict on duplicate id, got %v", err)
		}

		got, err := store.GetIncident(ctx, "inc-1")
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if got.PackageName != "lodash-utils" || got.Severity != types.SeverityCritical || got.Status != types.StatusDetected {
			t.Errorf("unexpected incident %+v", got)
		}
		if len(got.Indicators) != 1 || got.Indicators[0].Confidence != 0.9 {
			t.Errorf("indicators not preserved: %+v", got.Indicators)
		}
		if len(got.ProjectIDs) != 1 || got.ProjectIDs[0] != "web-app" {
			t.Errorf("project ids not preserved: %v", got.ProjectIDs)
		}
		if !got.CreatedAt.Equal(inc.CreatedAt) {
			t.Errorf("createdAt = %v, want %v", got.CreatedAt, inc.CreatedAt)
		}

		open, err := store.FindOpenIncident(ctx, "lodash-utils", "1.0.1")
		if err != nil || open.ID != "inc-1" {
			t.Fatalf("FindOpenIncident = %v, %v", open, err)
		}

		updated, err := store.UpdateIncidentStatus(ctx, "inc-1", types.StatusVerified)
		if err != nil {
			t.Fatalf("UpdateIncidentStatus: %v", err)
		}
		if updated.Status != types.StatusVerified {
			t.Errorf("status = %s", updated.Status)
		}

		// Same status again is a no-op.
		if _, err := store.UpdateIncidentStatus(ctx, "inc-1", types.StatusVerified); err != nil {
			t.Errorf("re-applying status should be a no-op, got %v", err)
		}
		if _, err := store.UpdateIncidentStatus(ctx, "inc-1", types.StatusFalsePositive); !errors.IsConflict(err) {
			t.Errorf("expected conflict, got %v", err)
		}
		if _, err := store.UpdateIncidentStatus(ctx, "inc-1", types.StatusDetected); !errors.IsConflict(err) {
			t.Errorf("expected conflict moving back to detected, got %v", err)
		}
		if _, err := store.UpdateIncidentStatus(ctx, "inc-1", types.StatusMitigated); err != nil {
			t.Errorf("verified -> mitigated: %v", err)
		}

		if _, err := store.FindOpenIncident(ctx, "lodash-utils", "1.0.1"); !errors.IsNotFound(err) {
			t.Errorf("mitigated incident must not be open, got %v", err)
		}
		if _, err := store.GetIncident(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
		if _, err := store.UpdateIncidentStatus(ctx, "missing", types.StatusVerified); !errors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
		if _, err := store.UpdateIncidentStatus(ctx, "inc-1", "closed"); !errors.IsInvalidInput(err) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("CreateIncidentValidation", func(t *testing.T) {
		store := newStore(t)
		tests := []struct {
			name   string
			mutate func(*types.Incident)
		}{
			{"missing id", func(i *types.Incident) { i.ID = "" }},
			{"missing package", func(i *types.Incident) { i.PackageName = "" }},
			{"bad status", func(i *types.Incident) { i.Status = "open" }},
			{"bad severity", func(i *types.Incident) { i.Severity = "urgent" }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				inc := testIncident("inc-v", "pkg", "1.0.0")
				tt.mutate(inc)
				if err := store.CreateIncident(ctx, inc); !errors.IsInvalidInput(err) {
					t.Errorf("expected invalid input, got %v", err)
				}
			})
		}
	})

	t.Run("QueryIncidents", func(t *testing.T) {
		store := newStore(t)
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i, spec := range []struct{ id, pkg, ver string }{
			{"a", "lodash-utils", "1.0.1"},
			{"b", "lodash-utils", "1.0.2"},
			{"c", "react-dom-helper", "0.5.0"},
		} {
			inc := testIncident(spec.id, spec.pkg, spec.ver)
			inc.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			inc.UpdatedAt = inc.CreatedAt
			if err := store.CreateIncident(ctx, inc); err != nil {
				t.Fatalf("CreateIncident: %v", err)
			}
		}
		if _, err := store.UpdateIncidentStatus(ctx, "b", types.StatusFalsePositive); err != nil {
			t.Fatalf("UpdateIncidentStatus: %v", err)
		}

		tests := []struct {
			name   string
			filter IncidentFilter
			want   []string
		}{
			{"all", IncidentFilter{}, []string{"a", "b", "c"}},
			{"by package", IncidentFilter{PackageName: "lodash-utils"}, []string{"a", "b"}},
			{"by version", IncidentFilter{PackageName: "lodash-utils", Version: "1.0.2"}, []string{"b"}},
			{"by status", IncidentFilter{Status: types.StatusDetected}, []string{"a", "c"}},
			{"limit", IncidentFilter{Limit: 2}, []string{"a", "b"}},
			{"offset", IncidentFilter{Limit: 2, Offset: 2}, []string{"c"}},
			{"no match", IncidentFilter{PackageName: "express"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.QueryIncidents(ctx, tt.filter)
				if err != nil {
					t.Fatalf("QueryIncidents: %v", err)
				}
				var ids []string
				for _, inc := range got {
					ids = append(ids, inc.ID)
				}
				if len(ids) != len(tt.want) {
					t.Fatalf("got %v, want %v", ids, tt.want)
				}
				for i := range ids {
					if ids[i] != tt.want[i] {
						t.Fatalf("got %v, want %v", ids, tt.want)
					}
				}
			})
		}
	})

	t.Run("Credentials", func(t *testing.T) {
		store := newStore(t)
		codec := testCodec()
		inc := testIncident("inc-c", "lodash-utils", "1.0.1")
		if err := store.CreateIncident(ctx, inc); err != nil {
			t.Fatalf("CreateIncident: %v", err)
		}

		finding := issueFinding(t, codec, inc)
		if err := store.AppendCredential(ctx, finding); err != nil {
			t.Fatalf("AppendCredential: %v", err)
		}
		if err := store.AppendCredential(ctx, finding); !errors.IsConflict(err) {
			t.Errorf("expected conflict on duplicate credential, got %v", err)
		}

		attestation, err := codec.Issue(credential.SafeToUseAttestation, credential.VerifierIdentity,
			credential.Subject{PackageName: "lodash-utils", Version: "1.0.0", IncidentID: inc.ID},
			map[string]interface{}{"reason": "rollback target"}, 24*time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if err := store.AppendCredential(ctx, attestation); err != nil {
			t.Fatalf("AppendCredential: %v", err)
		}

		loaded, err := store.GetCredential(ctx, finding.ID)
		if err != nil {
			t.Fatalf("GetCredential: %v", err)
		}
		if res := codec.Verify(ctx, loaded); !res.SignatureValid || !res.IssuerTrusted {
			t.Errorf("stored credential must verify unchanged: %+v", res)
		}

		loadedAtt, err := store.GetCredential(ctx, attestation.ID)
		if err != nil {
			t.Fatalf("GetCredential: %v", err)
		}
		if loadedAtt.ExpiresAt == nil || !loadedAtt.ExpiresAt.Equal(*attestation.ExpiresAt) {
			t.Errorf("expiresAt not preserved: %v", loadedAtt.ExpiresAt)
		}
		if res := codec.Verify(ctx, loadedAtt); !res.SignatureValid {
			t.Errorf("stored attestation must verify: %s", res.Reason)
		}

		byIncident, err := store.QueryCredentials(ctx, CredentialFilter{IncidentID: inc.ID})
		if err != nil {
			t.Fatalf("QueryCredentials: %v", err)
		}
		if len(byIncident) != 2 || byIncident[0].ID != finding.ID || byIncident[1].ID != attestation.ID {
			t.Errorf("expected both credentials in append order, got %d", len(byIncident))
		}

		byType, err := store.QueryCredentials(ctx, CredentialFilter{Type: credential.SafeToUseAttestation, PackageName: "lodash-utils", Version: "1.0.0"})
		if err != nil {
			t.Fatalf("QueryCredentials: %v", err)
		}
		if len(byType) != 1 || byType[0].ID != attestation.ID {
			t.Errorf("type filter returned %d credentials", len(byType))
		}

		byIssuer, err := store.QueryCredentials(ctx, CredentialFilter{Issuer: credential.ScannerIdentity})
		if err != nil {
			t.Fatalf("QueryCredentials: %v", err)
		}
		if len(byIssuer) != 1 {
			t.Errorf("issuer filter returned %d credentials", len(byIssuer))
		}

		got, err := store.GetIncident(ctx, inc.ID)
		if err != nil {
			t.Fatalf("GetIncident: %v", err)
		}
		if len(got.CredentialIDs) != 2 {
			t.Errorf("expected 2 credential ids, got %v", got.CredentialIDs)
		}

		if _, err := store.GetCredential(ctx, "urn:uuid:missing"); !errors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
		if err := store.AppendCredential(ctx, &credential.Credential{ID: "x", Type: "Bogus"}); !errors.IsInvalidInput(err) {
			t.Errorf("expected invalid input, got %v", err)
		}

		counts, err := store.CountCredentialsByType(ctx)
		if err != nil {
			t.Fatalf("CountCredentialsByType: %v", err)
		}
		if counts[credential.RiskFinding] != 1 || counts[credential.SafeToUseAttestation] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})

	t.Run("Releases", func(t *testing.T) {
		store := newStore(t)
		ev := types.ReleaseEvent{PackageName: "left-pad", Version: "1.3.0", Source: "registry"}

		scanned, err := store.ReleaseScanned(ctx, "left-pad", "1.3.0")
		if err != nil || scanned {
			t.Fatalf("ReleaseScanned before record = %v, %v", scanned, err)
		}
		if err := store.RecordRelease(ctx, ev); err != nil {
			t.Fatalf("RecordRelease: %v", err)
		}
		if err := store.RecordRelease(ctx, ev); err != nil {
			t.Fatalf("second RecordRelease should be a no-op: %v", err)
		}
		scanned, err = store.ReleaseScanned(ctx, "left-pad", "1.3.0")
		if err != nil || !scanned {
			t.Fatalf("ReleaseScanned after record = %v, %v", scanned, err)
		}
		if err := store.RecordRelease(ctx, types.ReleaseEvent{}); !errors.IsInvalidInput(err) {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("PatchPlans", func(t *testing.T) {
		store := newStore(t)
		plan := &types.PatchPlan{
			ID:                 "plan-1",
			IncidentID:         "inc-p",
			PackageName:        "lodash-utils",
			CurrentVersion:     "1.0.1",
			RecommendedVersion: "4.17.21",
			Action:             types.ActionReplace,
			Steps:              []string{"Remove lodash-utils", "Install lodash@4.17.21"},
		}
		saved, err := store.SavePatchPlan(ctx, plan)
		if err != nil {
			t.Fatalf("SavePatchPlan: %v", err)
		}
		if saved.Status != types.PlanProposed || len(saved.Steps) != 2 {
			t.Errorf("unexpected saved plan %+v", saved)
		}

		again, err := store.SavePatchPlan(ctx, &types.PatchPlan{
			ID:          "plan-2",
			IncidentID:  "inc-p",
			PackageName: "lodash-utils",
			Action:      types.ActionRemove,
		})
		if err != nil {
			t.Fatalf("second SavePatchPlan: %v", err)
		}
		if again.ID != "plan-1" {
			t.Errorf("expected existing plan to win, got %s", again.ID)
		}

		accepted, err := store.UpdatePatchPlanStatus(ctx, "plan-1", types.PlanAccepted)
		if err != nil {
			t.Fatalf("UpdatePatchPlanStatus: %v", err)
		}
		if accepted.Status != types.PlanAccepted {
			t.Errorf("status = %s", accepted.Status)
		}
		if _, err := store.UpdatePatchPlanStatus(ctx, "plan-1", types.PlanAccepted); err != nil {
			t.Errorf("re-accept should be a no-op, got %v", err)
		}
		if _, err := store.UpdatePatchPlanStatus(ctx, "plan-1", types.PlanProposed); !errors.IsConflict(err) {
			t.Errorf("expected conflict, got %v", err)
		}
		if _, err := store.GetPatchPlan(ctx, "missing"); !errors.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}

		plans, err := store.ListPatchPlans(ctx, PatchPlanFilter{Status: types.PlanAccepted})
		if err != nil {
			t.Fatalf("ListPatchPlans: %v", err)
		}
		if len(plans) != 1 || plans[0].ID != "plan-1" {
			t.Errorf("unexpected plans %v", plans)
		}
	})

	t.Run("CountIncidentsByStatus", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"x1", "x2", "x3"} {
			if err := store.CreateIncident(ctx, testIncident(id, "pkg-"+id, "1.0.0")); err != nil {
				t.Fatalf("CreateIncident: %v", err)
			}
		}
		if _, err := store.UpdateIncidentStatus(ctx, "x1", types.StatusVerified); err != nil {
			t.Fatalf("UpdateIncidentStatus: %v", err)
		}
		counts, err := store.CountIncidentsByStatus(ctx)
		if err != nil {
			t.Fatalf("CountIncidentsByStatus: %v", err)
		}
		if counts[types.StatusDetected] != 2 || counts[types.StatusVerified] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}
