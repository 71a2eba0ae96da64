package payments

import (
	"strings"
	"testing"
	"time"
)

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.completed"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)

	header := SignPayload(payload, secret, now)

	if !VerifyWebhookSignature(payload, header, secret, now) {
		t.Fatalf("expected fresh signature to verify")
	}
	if !VerifyWebhookSignature(payload, header, secret, now.Add(4*time.Minute)) {
		t.Fatalf("expected signature within tolerance to verify")
	}
}

func TestVerifyWebhookSignatureRejects(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)
	header := SignPayload(payload, secret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		at      time.Time
	}{
		{"tampered payload", []byte(`{"id":"evt_2"}`), header, secret, now},
		{"wrong secret", payload, header, "whsec_other", now},
		{"stale timestamp", payload, header, secret, now.Add(6 * time.Minute)},
		{"future timestamp", payload, header, secret, now.Add(-6 * time.Minute)},
		{"empty header", payload, "", secret, now},
		{"empty secret", payload, header, "", now},
		{"garbage header", payload, "t=abc,v1=zz", secret, now},
		{"missing v1", payload, "t=1700000000", secret, now},
	}

	for _, tt := range tests {
		if VerifyWebhookSignature(tt.payload, tt.header, tt.secret, tt.at) {
			t.Fatalf("%s: expected verification to fail", tt.name)
		}
	}
}

func TestVerifyWebhookSignatureMultipleCandidates(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)

	good := SignPayload(payload, secret, now)
	v1 := strings.TrimPrefix(strings.SplitN(good, ",", 2)[1], "v1=")
	header := "t=1700000000,v1=" + strings.Repeat("0", 64) + ",v1=" + v1

	if !VerifyWebhookSignature(payload, header, secret, now) {
		t.Fatalf("expected any matching v1 candidate to verify")
	}
}

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"id":" evt_1 ","type":"checkout.completed","data":{"session_id":"cs_1","payment_id":"pay_1","amount_cents":1999}}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if evt.ID != "evt_1" || evt.Type != EventCheckoutCompleted {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
	if evt.Data.AmountCents != 1999 || evt.Data.PaymentID != "pay_1" {
		t.Fatalf("unexpected data: %+v", evt.Data)
	}
}

func TestParseEventErrors(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"type":"checkout.completed"}`,
		`{"id":"evt_1"}`,
	} {
		if _, err := ParseEvent([]byte(payload)); err == nil {
			t.Fatalf("expected error for payload %s", payload)
		}
	}
}
