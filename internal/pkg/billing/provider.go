package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/synthhq/synth/internal/pkg/env"
)

const defaultProviderAPIBaseURL = "https://api.stripe.com/v1"

// ProviderSubscription is the provider-side view of a subscription used by
// the resync path.
type ProviderSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceRef          string
	TrialEndsAt       *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// ProviderPaymentMethod is the minimal payment-method view we cache locally.
type ProviderPaymentMethod struct {
	ID    string
	Brand string
	Last4 string
}

// Provider is the consumed billing-provider contract. Amount and proration
// logic lives entirely on the provider side.
type Provider interface {
	CreateSubscription(ctx context.Context, customerID, priceRef string) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID, priceRef string) (*ProviderSubscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]ProviderPaymentMethod, error)
}

// HTTPProvider talks to a Stripe-shaped REST API with form-encoded writes.
type HTTPProvider struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewProviderFromEnv builds the production provider client.
func NewProviderFromEnv() *HTTPProvider {
	return &HTTPProvider{
		APIKey:     strings.TrimSpace(env.GetEnv("BILLING_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("BILLING_API_BASE_URL", defaultProviderAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type providerSubscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	TrialEnd          int64  `json:"trial_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p providerSubscriptionPayload) toSubscription() *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                p.ID,
		CustomerID:        p.Customer,
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}
	if len(p.Items.Data) > 0 {
		out.PriceRef = p.Items.Data[0].Price.ID
	}
	if p.TrialEnd > 0 {
		t := time.Unix(p.TrialEnd, 0).UTC()
		out.TrialEndsAt = &t
	}
	if p.CurrentPeriodEnd > 0 {
		t := time.Unix(p.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}

func (c *HTTPProvider) CreateSubscription(ctx context.Context, customerID, priceRef string) (*ProviderSubscription, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(priceRef) == "" {
		return nil, errors.New("customer id and price ref are required")
	}
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceRef)

	var payload providerSubscriptionPayload
	if err := c.do(ctx, http.MethodPost, "/subscriptions", form, &payload); err != nil {
		return nil, err
	}
	return payload.toSubscription(), nil
}

func (c *HTTPProvider) UpdateSubscription(ctx context.Context, subscriptionID, priceRef string) (*ProviderSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	form := url.Values{}
	if strings.TrimSpace(priceRef) != "" {
		form.Set("items[0][price]", priceRef)
	}
	// Plan switches bill on the next invoice, never mid-cycle.
	form.Set("proration_behavior", "none")

	var payload providerSubscriptionPayload
	if err := c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subscriptionID), form, &payload); err != nil {
		return nil, err
	}
	return payload.toSubscription(), nil
}

func (c *HTTPProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	var payload providerSubscriptionPayload
	if err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &payload); err != nil {
		return nil, err
	}
	return payload.toSubscription(), nil
}

func (c *HTTPProvider) ListPaymentMethods(ctx context.Context, customerID string) ([]ProviderPaymentMethod, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("customer id is required")
	}
	var payload struct {
		Data []struct {
			ID   string `json:"id"`
			Card struct {
				Brand string `json:"brand"`
				Last4 string `json:"last4"`
			} `json:"card"`
		} `json:"data"`
	}
	path := "/customers/" + url.PathEscape(customerID) + "/payment_methods?type=card"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]ProviderPaymentMethod, 0, len(payload.Data))
	for _, pm := range payload.Data {
		out = append(out, ProviderPaymentMethod{ID: pm.ID, Brand: pm.Card.Brand, Last4: pm.Card.Last4})
	}
	return out, nil
}

func (c *HTTPProvider) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("BILLING_API_KEY is not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Provider error bodies stay server-side; callers map to generic
		// messages before anything reaches a client.
		return fmt.Errorf("billing provider request failed: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, out)
}
