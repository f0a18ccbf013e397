package billing

import (
	"testing"
	"time"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/internal/pkg/entitlements"
)

func TestParseEvent_InvoiceCarriesSubscriptionField(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{"id":"in_123","customer":"cus_1","subscription":"sub_1"}}}`)
	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.SubscriptionID != "sub_1" {
		t.Errorf("SubscriptionID = %q, want sub_1", ev.SubscriptionID)
	}
	if ev.CustomerID != "cus_1" {
		t.Errorf("CustomerID = %q, want cus_1", ev.CustomerID)
	}
	if !ev.HasEffects() {
		t.Error("invoice.payment_succeeded should have effects")
	}
}

func TestParseEvent_SubscriptionObjectUsesItsOwnID(t *testing.T) {
	trialEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	raw := []byte(`{"id":"evt_2","type":"customer.subscription.updated","data":{"object":{"id":"sub_2","customer":"cus_2","status":"trialing","trial_end":1751328000,"cancel_at_period_end":true}}}`)
	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.SubscriptionID != "sub_2" {
		t.Errorf("SubscriptionID = %q, want sub_2", ev.SubscriptionID)
	}
	if ev.TrialEndsAt == nil || !ev.TrialEndsAt.Equal(trialEnd) {
		t.Errorf("TrialEndsAt = %v, want %v", ev.TrialEndsAt, trialEnd)
	}
	if !ev.CancelAtPeriodEnd {
		t.Error("CancelAtPeriodEnd should be true")
	}
}

func TestParseEvent_Errors(t *testing.T) {
	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Error("malformed JSON should fail")
	}
	if _, err := ParseEvent([]byte(`{"id":"evt_3"}`)); err == nil {
		t.Error("missing type should fail")
	}
}

func TestParseEvent_UnknownTypeHasNoEffects(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"evt_4","type":"payout.paid","data":{"object":{}}}`))
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if ev.HasEffects() {
		t.Error("payout.paid should not have effects")
	}
}

func TestProviderStatusToEnum(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", entitlements.StatusSubscribed},
		{"trialing", entitlements.StatusSubscribed},
		{" Active ", entitlements.StatusSubscribed},
		{"past_due", entitlements.StatusUnsubscribed},
		{"canceled", entitlements.StatusUnsubscribed},
		{"incomplete", entitlements.StatusUnsubscribed},
		{"", entitlements.StatusUnsubscribed},
		{"something_new", entitlements.StatusUnsubscribed},
	}
	for _, tc := range tests {
		if got := ProviderStatusToEnum(tc.in); got != tc.want {
			t.Errorf("ProviderStatusToEnum(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeLegacyStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"active", models.BillingStatusActive},
		{"PAST_DUE", models.BillingStatusPastDue},
		{"unpaid", models.BillingStatusUnpaid},
		{"", models.BillingStatusNone},
		{"totally_made_up", models.BillingStatusNone},
	}
	for _, tc := range tests {
		if got := NormalizeLegacyStatus(tc.in); got != tc.want {
			t.Errorf("NormalizeLegacyStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSafeDefaultState(t *testing.T) {
	st := SafeDefaultState()
	if st.Plan != string(entitlements.PlanFree) {
		t.Errorf("Plan = %q, want free", st.Plan)
	}
	if st.AccessLevel != entitlements.AccessMinimal {
		t.Errorf("AccessLevel = %q, want minimal", st.AccessLevel)
	}
	if st.Usage.Workflows.Max == nil || *st.Usage.Workflows.Max != 0 {
		t.Error("workflows max should be zero, not unlimited")
	}
	if st.CanChangePlan {
		t.Error("degraded state must not advertise plan changes")
	}
}
