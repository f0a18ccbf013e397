package entitlements

import (
	"testing"
	"time"
)

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in   string
		want Plan
	}{
		{in: "free", want: PlanFree},
		{in: "starter", want: PlanStarter},
		{in: "pro", want: PlanPro},
		{in: "agency", want: PlanAgency},
		{in: " AGENCY ", want: PlanAgency},
		{in: "invalid", want: PlanFree},
		{in: "", want: PlanFree},
	}

	for _, tt := range tests {
		if got := NormalizePlan(tt.in); got != tt.want {
			t.Fatalf("NormalizePlan(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlanRankOrdering(t *testing.T) {
	order := []Plan{PlanFree, PlanStarter, PlanPro, PlanAgency}
	for i := 1; i < len(order); i++ {
		if PlanRank(order[i-1]) >= PlanRank(order[i]) {
			t.Fatalf("expected %s to outrank %s", order[i], order[i-1])
		}
	}
}

func TestResolveAccess_TrialTrumpsStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)

	statuses := []struct{ enum, legacy string }{
		{"", "none"},
		{"", "canceled"},
		{"", "unpaid"},
		{StatusUnsubscribed, ""},
		{StatusSubscribed, ""},
		{"", "incomplete_expired"},
	}
	for _, s := range statuses {
		got := ResolveAccess(s.enum, s.legacy, &future, now)
		if got.Level != AccessFull || !got.IsInTrial {
			t.Fatalf("ResolveAccess(%q,%q) during trial = %+v, want full/in-trial", s.enum, s.legacy, got)
		}
	}
}

func TestResolveAccess_TrialExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	got := ResolveAccess("", "canceled", &past, now)
	if got.Level != AccessMinimal || got.IsInTrial {
		t.Fatalf("expired trial over canceled = %+v, want minimal/no-trial", got)
	}

	// Boundary: trial ending exactly now no longer counts.
	got = ResolveAccess("", "canceled", &now, now)
	if got.IsInTrial {
		t.Fatalf("trial ending at the evaluation instant should not count")
	}
}

func TestResolveAccess_EnumBeatsLegacy(t *testing.T) {
	now := time.Now()

	if got := ResolveAccess(StatusSubscribed, "canceled", nil, now); got.Level != AccessFull {
		t.Fatalf("subscribed enum should grant full access, got %+v", got)
	}
	if got := ResolveAccess(StatusUnsubscribed, "active", nil, now); got.Level != AccessMinimal {
		t.Fatalf("unsubscribed enum should cap at minimal access, got %+v", got)
	}
}

func TestResolveAccess_LegacyPath(t *testing.T) {
	now := time.Now()

	allowed := []string{"active", "trialing", "past_due", "subscribed", "ACTIVE "}
	for _, s := range allowed {
		if got := ResolveAccess("", s, nil, now); got.Level != AccessFull {
			t.Fatalf("legacy status %q should grant full access, got %+v", s, got)
		}
	}

	blocked := []string{"none", "canceled", "incomplete_expired", "incomplete", "unpaid", "unsubscribed", "", "some_future_status"}
	for _, s := range blocked {
		if got := ResolveAccess("", s, nil, now); got.Level != AccessMinimal {
			t.Fatalf("legacy status %q should grant minimal access, got %+v", s, got)
		}
	}
}
