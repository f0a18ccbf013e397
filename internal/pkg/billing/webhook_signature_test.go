package billing

import (
	"strings"
	"testing"
	"time"
)

func TestVerifyWebhookSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	secret := "whsec_abc"

	valid := SignWebhookPayload(payload, secret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		want    bool
	}{
		{"valid", payload, valid, secret, now, true},
		{"valid within tolerance", payload, SignWebhookPayload(payload, secret, now.Add(-4*time.Minute)), secret, now, true},
		{"timestamp too old", payload, SignWebhookPayload(payload, secret, now.Add(-6*time.Minute)), secret, now, false},
		{"timestamp in future", payload, SignWebhookPayload(payload, secret, now.Add(6*time.Minute)), secret, now, false},
		{"wrong secret", payload, SignWebhookPayload(payload, "whsec_other", now), secret, now, false},
		{"tampered payload", []byte(`{"id":"evt_2"}`), valid, secret, now, false},
		{"empty header", payload, "", secret, now, false},
		{"empty secret", payload, valid, "", now, false},
		{"garbage header", payload, "not-a-signature", secret, now, false},
		{"missing v1", payload, "t=1748779200", secret, now, false},
		{"non-hex v1", payload, "t=1748779200,v1=zzzz", secret, now, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := VerifyWebhookSignature(tc.payload, tc.header, tc.secret, tc.now)
			if got != tc.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyWebhookSignature_MultipleSchemes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_abc"

	// Providers rolling their secret send the old and new MAC side by side;
	// one matching v1 is enough.
	header := SignWebhookPayload(payload, secret, now)
	stale := SignWebhookPayload(payload, "whsec_old", now)
	combined := header + "," + stale[strings.Index(stale, "v1="):]

	if !VerifyWebhookSignature(payload, combined, secret, now) {
		t.Error("expected header with one valid v1 among several to verify")
	}
}
