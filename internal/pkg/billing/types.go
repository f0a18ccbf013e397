package billing

import (
	"strconv"
	"time"

	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// StateCacheKey is the cache key for a user's billing overview. Every write
// path that changes billing state must invalidate it.
func StateCacheKey(userID uint) string {
	return "billing:state:" + strconv.FormatUint(uint64(userID), 10)
}

// Rejection codes surfaced by the plan-change guard, in priority order.
const (
	CodeAlreadyOnPlan      = "ALREADY_ON_PLAN"
	CodePendingPlanSame    = "PENDING_PLAN_SAME"
	CodePlanChangeCooldown = "PLAN_CHANGE_COOLDOWN"
	CodePlanChangeConflict = "PLAN_CHANGE_CONFLICT"
)

// PlanChangeCooldown is the minimum interval between plan switches. The very
// first assignment (last_plan_change_at is null) is exempt.
const PlanChangeCooldown = 14 * 24 * time.Hour

const cooldownDays = 14

// Rejection explains why a plan-change request was refused.
type Rejection struct {
	Code          string `json:"code"`
	DaysRemaining int    `json:"days_remaining,omitempty"`
}

// PlanChangeResult is returned on acceptance. Entitlements keep using the
// current plan until the provider confirms the switch.
type PlanChangeResult struct {
	CurrentPlan string `json:"plan"`
	PendingPlan string `json:"pending_plan"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// UsageGauge pairs current usage with the plan limit (nil max = unlimited).
type UsageGauge struct {
	Current int64  `json:"current"`
	Max     *int64 `json:"max"`
}

// State is the billing overview backing dashboard gating. It must always be
// constructible, even when parts of the system are down.
type State struct {
	Plan                string                   `json:"plan"`
	PendingPlan         string                   `json:"pending_plan,omitempty"`
	AccessLevel         entitlements.AccessLevel `json:"access_level"`
	IsInTrial           bool                     `json:"is_in_trial"`
	TrialEndsAt         *time.Time               `json:"trial_ends_at,omitempty"`
	RenewalAt           *time.Time               `json:"renewal_at,omitempty"`
	CanChangePlan       bool                     `json:"can_change_plan"`
	DaysUntilNextChange int                      `json:"days_until_next_change,omitempty"`
	PaymentMethodOnFile bool                     `json:"payment_method_on_file"`
	Usage               struct {
		Workflows  UsageGauge `json:"workflows"`
		Executions UsageGauge `json:"executions"`
	} `json:"usage"`
}

// SafeDefaultState is what the overview degrades to when internal reads fail:
// an unsubscribed free account with no usage data. The dashboard must never
// lose navigation because billing state was unavailable.
func SafeDefaultState() *State {
	s := &State{
		Plan:        string(entitlements.PlanFree),
		AccessLevel: entitlements.AccessMinimal,
	}
	zero := int64(0)
	s.Usage.Workflows = UsageGauge{Max: &zero}
	s.Usage.Executions = UsageGauge{Max: &zero}
	return s
}
