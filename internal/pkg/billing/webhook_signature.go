package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old a signed webhook timestamp may be before
// we treat it as a replay.
const SignatureTolerance = 5 * time.Minute

// VerifyWebhookSignature checks a provider signature header of the form
// "t=<unix>,v1=<hex hmac-sha256>" where the MAC is computed over
// "<t>.<payload>". Invalid signatures are permanent rejections; callers must
// not record any state for them.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var tsPart string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			tsPart = v
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(v))
			if err == nil {
				sigs = append(sigs, decoded)
			}
		}
	}
	if tsPart == "" || len(sigs) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return false
	}
	signedAt := time.Unix(ts, 0)
	age := now.Sub(signedAt)
	if age > SignatureTolerance || age < -SignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// SignWebhookPayload produces a header in the verified format. Used by tests
// and the local provider simulator.
func SignWebhookPayload(payload []byte, webhookSecret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
