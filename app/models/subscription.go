package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// Legacy free-text statuses kept for backward compatibility. New writes go
// through StatusEnum; the legacy column is audit/debug only.
const (
	BillingStatusActive            = "active"
	BillingStatusTrialing          = "trialing"
	BillingStatusPastDue           = "past_due"
	BillingStatusCanceled          = "canceled"
	BillingStatusIncomplete        = "incomplete"
	BillingStatusIncompleteExpired = "incomplete_expired"
	BillingStatusUnpaid            = "unpaid"
	BillingStatusNone              = "none"
)

const (
	BillingPeriodMonth = "month"
	BillingPeriodYear  = "year"
)

// Subscription is the single authoritative billing record per user. Plan
// changes only ever write PendingPlan; Plan and StatusEnum are owned by the
// webhook reconciliation path.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	PendingPlan            string     `gorm:"type:varchar(50);default:''" json:"pending_plan"`
	StatusEnum             string     `gorm:"type:varchar(32);default:'';index" json:"status"`
	StatusLegacy           string     `gorm:"type:varchar(32);default:''" json:"status_legacy"`
	BillingPeriod          string     `gorm:"type:varchar(16);default:'month'" json:"billing_period"`
	TrialEndsAt            *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	LastPlanChangeAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_plan_change_at,omitempty"`
	RenewalAt              *time.Time `gorm:"type:timestamp;default:null" json:"renewal_at,omitempty"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"-"`
	PaymentMethodOnFile    bool       `gorm:"default:false" json:"payment_method_on_file"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPendingPlan reports whether a plan switch awaits its first invoice.
func (s *Subscription) HasPendingPlan() bool {
	return s != nil && s.PendingPlan != ""
}
