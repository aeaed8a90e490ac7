package types

import (
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from IncidentStatus
		to   IncidentStatus
		want bool
	}{
		{StatusDetected, StatusVerified, true},
		{StatusDetected, StatusFalsePositive, true},
		{StatusDetected, StatusMitigated, false},
		{StatusDetected, StatusDetected, false},
		{StatusVerified, StatusMitigated, true},
		{StatusVerified, StatusFalsePositive, false},
		{StatusVerified, StatusDetected, false},
		{StatusFalsePositive, StatusDetected, false},
		{StatusFalsePositive, StatusVerified, false},
		{StatusFalsePositive, StatusMitigated, false},
		{StatusMitigated, StatusDetected, false},
		{StatusMitigated, StatusVerified, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusDetected.Blocking() || !StatusVerified.Blocking() {
		t.Error("detected and verified must be blocking")
	}
	if StatusFalsePositive.Blocking() || StatusMitigated.Blocking() {
		t.Error("false_positive and mitigated must never be blocking")
	}
	if StatusDetected.Terminal() {
		t.Error("detected is not terminal")
	}
	if IncidentStatus("closed").Valid() {
		t.Error("unknown status must be invalid")
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityCritical.Rank() > SeverityHigh.Rank() &&
		SeverityHigh.Rank() > SeverityMedium.Rank() &&
		SeverityMedium.Rank() > SeverityLow.Rank()) {
		t.Error("severity ranks are not strictly ordered")
	}
	if _, ok := ParseSeverity("CRITICAL"); ok {
		t.Error("ParseSeverity should be case-sensitive")
	}
	if sev, ok := ParseSeverity("high"); !ok || sev != SeverityHigh {
		t.Errorf("ParseSeverity(high) = %v, %v", sev, ok)
	}
}

func TestPreviousVersion(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"1.0.1", "1.0.0", true},
		{"4.17.21", "4.17.0", true},
		{"2.3.0", "2.2.0", true},
		{"3.0.0", "2.0.0", true},
		{"0.5.0", "0.4.0", true},
		{"0.0.0", "", false},
		{"not-a-version", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := PreviousVersion(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("PreviousVersion(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestVersionInRanges(t *testing.T) {
	if !VersionInRanges("1.2.3", nil) {
		t.Error("empty range list should match")
	}
	if !VersionInRanges("1.2.3", []string{">=1.0.0 <2.0.0"}) {
		t.Error("expected 1.2.3 in range")
	}
	if VersionInRanges("2.0.0", []string{"^1.0.0"}) {
		t.Error("expected 2.0.0 out of ^1.0.0")
	}
	if VersionInRanges("garbage", []string{"*"}) {
		t.Error("unparsable version must not match")
	}
}

func TestMaxConfidence(t *testing.T) {
	if got := MaxConfidence(nil); got != 0 {
		t.Errorf("MaxConfidence(nil) = %v", got)
	}
	got := MaxConfidence([]RiskIndicator{{Confidence: 0.4}, {Confidence: 0.9}, {Confidence: 0.7}})
	if got != 0.9 {
		t.Errorf("MaxConfidence = %v, want 0.9", got)
	}
}

func TestPackageKey(t *testing.T) {
	r := ReleaseEvent{PackageName: "lodash-utils", Version: "1.0.1"}
	if r.Key() != "lodash-utils@1.0.1" {
		t.Errorf("Key() = %s", r.Key())
	}
}
