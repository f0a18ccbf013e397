package integrations

import (
	"testing"

	"github.com/synthhq/synth/internal/pkg/entitlements"
)

func TestCatalogShape(t *testing.T) {
	if got := CatalogSize(); got != 40 {
		t.Fatalf("catalog must carry exactly 40 integrations, got %d", got)
	}

	counts := CountByMinimumPlan()
	if counts[entitlements.PlanStarter] != 15 {
		t.Fatalf("expected 15 starter integrations, got %d", counts[entitlements.PlanStarter])
	}
	if counts[entitlements.PlanPro] != 15 {
		t.Fatalf("expected 15 pro integrations, got %d", counts[entitlements.PlanPro])
	}
	if counts[entitlements.PlanAgency] != 10 {
		t.Fatalf("expected 10 agency integrations, got %d", counts[entitlements.PlanAgency])
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "slack", want: "slack", wantOK: true},
		{in: " Slack ", want: "slack", wantOK: true},
		{in: "Google Sheets", want: "google-sheets", wantOK: true},
		{in: "google_sheets", want: "google-sheets", wantOK: true},
		{in: "gsheet", want: "google-sheets", wantOK: true},
		{in: "gcal", want: "google-calendar", wantOK: true},
		{in: "monday.com", want: "monday", wantOK: true},
		{in: "SomeRandomCRM", wantOK: false},
		{in: "", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := Resolve(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMinimumPlanFor(t *testing.T) {
	if p, ok := MinimumPlanFor("salesforce"); !ok || p != entitlements.PlanPro {
		t.Fatalf("salesforce should require pro, got (%q, %v)", p, ok)
	}
	if _, ok := MinimumPlanFor("somerandomcrm"); ok {
		t.Fatalf("unknown ids must not resolve a minimum plan")
	}
}

func TestAllowedForPlan_TierComparison(t *testing.T) {
	// pro integration: usable by pro and agency, not starter or free
	if AllowedForPlan("stripe", entitlements.PlanStarter) {
		t.Fatalf("starter must not unlock a pro integration")
	}
	if AllowedForPlan("stripe", entitlements.PlanFree) {
		t.Fatalf("free must not unlock a pro integration")
	}
	if !AllowedForPlan("stripe", entitlements.PlanPro) {
		t.Fatalf("pro should unlock its own tier")
	}
	if !AllowedForPlan("stripe", entitlements.PlanAgency) {
		t.Fatalf("agency should unlock lower tiers")
	}
}
