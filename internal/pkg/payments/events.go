package payments

import (
	"encoding/json"
	"errors"
	"strings"
)

// Provider event types the reconciler understands. Anything else is stored and
// acknowledged without side effects.
const (
	EventCheckoutCompleted = "checkout.completed"
	EventChargeRefunded    = "charge.refunded"
	EventChargeDisputed    = "charge.dispute.created"
)

// Event is the parsed provider webhook envelope.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	// checkout.completed
	SessionID         string `json:"session_id"`
	PaymentID         string `json:"payment_id"`
	ClientReferenceID string `json:"client_reference_id"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	CustomerEmail     string `json:"customer_email"`

	// charge.refunded / charge.dispute.created
	RefundedCents int64 `json:"refunded_cents"`
}

// ParseEvent decodes a provider webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	evt.ID = strings.TrimSpace(evt.ID)
	evt.Type = strings.TrimSpace(evt.Type)
	if evt.ID == "" {
		return nil, errors.New("event id is required")
	}
	if evt.Type == "" {
		return nil, errors.New("event type is required")
	}
	return &evt, nil
}
