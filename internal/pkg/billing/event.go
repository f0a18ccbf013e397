package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Webhook event types with reconciliation effects. Anything else is recorded
// and acknowledged as a forward-compatible no-op.
const (
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

// Event is the decoded, provider-agnostic view of a webhook payload.
type Event struct {
	ID                string
	Type              string
	CustomerID        string
	SubscriptionID    string
	Status            string
	TrialEndsAt       *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string `json:"id"`
			Customer          string `json:"customer"`
			Subscription      string `json:"subscription"`
			Status            string `json:"status"`
			TrialEnd          int64  `json:"trial_end"`
			CurrentPeriodEnd  int64  `json:"current_period_end"`
			CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body. Invoice events carry the
// subscription in object.subscription; subscription events carry it as
// object.id.
func ParseEvent(raw []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.New("event type missing")
	}

	ev := &Event{
		ID:                strings.TrimSpace(env.ID),
		Type:              strings.TrimSpace(env.Type),
		CustomerID:        strings.TrimSpace(env.Data.Object.Customer),
		Status:            env.Data.Object.Status,
		CancelAtPeriodEnd: env.Data.Object.CancelAtPeriodEnd,
	}

	if strings.HasPrefix(ev.Type, "customer.subscription.") {
		ev.SubscriptionID = strings.TrimSpace(env.Data.Object.ID)
	} else {
		ev.SubscriptionID = strings.TrimSpace(env.Data.Object.Subscription)
	}

	if env.Data.Object.TrialEnd > 0 {
		t := time.Unix(env.Data.Object.TrialEnd, 0).UTC()
		ev.TrialEndsAt = &t
	}
	if env.Data.Object.CurrentPeriodEnd > 0 {
		t := time.Unix(env.Data.Object.CurrentPeriodEnd, 0).UTC()
		ev.CurrentPeriodEnd = &t
	}

	return ev, nil
}

// HasEffects reports whether the event type mutates subscription state.
func (e *Event) HasEffects() bool {
	switch e.Type {
	case EventInvoicePaymentFailed,
		EventInvoicePaymentSucceeded,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted:
		return true
	default:
		return false
	}
}
