package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// Notifier receives billing side effects that must not block reconciliation.
// The production wiring enqueues background jobs; tests may pass nil.
type Notifier interface {
	PaymentFailed(userID uint)
	PlanActivated(userID uint, plan string)
}

// Service implements the plan-change guard and webhook reconciliation over an
// injected repository and plan catalog.
type Service struct {
	repo     Repository
	catalog  *entitlements.Catalog
	notifier Notifier
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, catalog *entitlements.Catalog, notifier Notifier) *Service {
	if catalog == nil {
		catalog = entitlements.DefaultCatalog()
	}
	return &Service{repo: repo, catalog: catalog, notifier: notifier}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, notifier Notifier) *Service {
	return NewService(NewRepository(db), entitlements.DefaultCatalog(), notifier)
}

// RequestPlanChange applies the cooldown guard and records the pending plan.
// Entitlements keep using the current plan until the next successful invoice
// promotes the pending one. The write is a compare-and-set on
// last_plan_change_at so two concurrent requests cannot both pass the guard.
func (s *Service) RequestPlanChange(ctx context.Context, userID uint, newPlan string, billingPeriod string, now time.Time) (*PlanChangeResult, *Rejection, error) {
	_ = ctx
	if userID == 0 {
		return nil, nil, errors.New("user_id is required")
	}
	target := entitlements.NormalizePlan(newPlan)

	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return nil, nil, err
	}

	current := entitlements.NormalizePlan(sub.Plan)
	pending := strings.TrimSpace(sub.PendingPlan)

	if target == current && pending == "" {
		return nil, &Rejection{Code: CodeAlreadyOnPlan}, nil
	}
	if pending != "" && target == entitlements.NormalizePlan(pending) {
		return nil, &Rejection{Code: CodePendingPlanSame}, nil
	}
	if sub.LastPlanChangeAt != nil {
		elapsed := now.Sub(*sub.LastPlanChangeAt)
		if elapsed < PlanChangeCooldown {
			remaining := cooldownDays - int(elapsed.Hours()/24)
			return nil, &Rejection{Code: CodePlanChangeCooldown, DaysRemaining: remaining}, nil
		}
	}

	period := ""
	if billingPeriod == models.BillingPeriodYear || billingPeriod == models.BillingPeriodMonth {
		period = billingPeriod
	}
	ok, err := s.repo.CompareAndSetPlanChange(userID, sub.LastPlanChangeAt, string(target), period, now)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		// A concurrent request moved last_plan_change_at under us.
		return nil, &Rejection{Code: CodePlanChangeConflict}, nil
	}

	return &PlanChangeResult{CurrentPlan: string(current), PendingPlan: string(target)}, nil, nil
}

// WebhookOutcome tells the HTTP layer how to answer a webhook delivery.
type WebhookOutcome struct {
	OK        bool
	Duplicate bool
	Ignored   bool
	Retryable bool
	Code      string
	EventID   string
	UserID    uint
}

// ProcessWebhook runs the full reconciliation state machine for one delivery:
// signature check (permanent reject, nothing recorded), idempotent event
// insert, effect application in one transaction, processed/failed marking.
// A Retryable outcome means the provider should redeliver; the idempotency
// key guarantees a later success does not double-apply.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader, secret string, now time.Time) (*WebhookOutcome, error) {
	if !VerifyWebhookSignature(rawBody, signatureHeader, secret, now) {
		return &WebhookOutcome{Code: "invalid_signature"}, nil
	}

	ev, parseErr := ParseEvent(rawBody)
	if parseErr != nil {
		return &WebhookOutcome{Code: "invalid_payload"}, nil
	}

	eventID := ev.ID
	if eventID == "" {
		// Deterministic fallback id so delivery retries still dedupe.
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: eventID,
		EventType:       ev.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return &WebhookOutcome{Retryable: true, Code: "persist_failed", EventID: eventID}, err
	}

	if !created && stored.Processed() {
		return &WebhookOutcome{OK: true, Duplicate: true, Code: "duplicate", EventID: eventID}, nil
	}

	if !ev.HasEffects() {
		// Forward-compatible no-op: record and acknowledge.
		if err := s.repo.MarkWebhookProcessed(stored.ID, ""); err != nil {
			return &WebhookOutcome{Retryable: true, Code: "mark_failed", EventID: eventID}, err
		}
		return &WebhookOutcome{OK: true, Ignored: true, Code: "ignored", EventID: eventID}, nil
	}

	userID, applyErr := s.applyEffects(ev, now)
	if applyErr != nil {
		if errors.Is(applyErr, gorm.ErrRecordNotFound) {
			// No local subscription matches; nothing to reconcile.
			_ = s.repo.MarkWebhookProcessed(stored.ID, "no matching subscription")
			return &WebhookOutcome{OK: true, Ignored: true, Code: "ignored", EventID: eventID}, nil
		}
		_ = s.repo.MarkWebhookProcessed(stored.ID, applyErr.Error())
		return &WebhookOutcome{Retryable: true, Code: "apply_failed", EventID: eventID}, applyErr
	}

	if err := s.repo.MarkWebhookProcessed(stored.ID, ""); err != nil {
		return &WebhookOutcome{Retryable: true, Code: "mark_failed", EventID: eventID}, err
	}
	return &WebhookOutcome{OK: true, Code: "ok", EventID: eventID, UserID: userID}, nil
}

// applyEffects mutates the matching subscription inside one transaction so a
// partial multi-field update is never observable.
func (s *Service) applyEffects(ev *Event, now time.Time) (uint, error) {
	var userID uint
	err := s.repo.WithTx(func(r Repository) error {
		sub, err := s.locateSubscription(r, ev)
		if err != nil {
			return err
		}
		userID = sub.UserID

		switch ev.Type {
		case EventInvoicePaymentFailed:
			sub.StatusEnum = entitlements.StatusUnsubscribed
			sub.StatusLegacy = models.BillingStatusPastDue
			if s.notifier != nil {
				s.notifier.PaymentFailed(sub.UserID)
			}

		case EventInvoicePaymentSucceeded:
			sub.StatusEnum = entitlements.StatusSubscribed
			sub.StatusLegacy = models.BillingStatusActive
			if sub.HasPendingPlan() {
				promoted := entitlements.NormalizePlan(sub.PendingPlan)
				sub.Plan = string(promoted)
				sub.PendingPlan = ""
				if s.notifier != nil {
					s.notifier.PlanActivated(sub.UserID, string(promoted))
				}
			}

		case EventSubscriptionCreated, EventSubscriptionUpdated:
			sub.StatusEnum = ProviderStatusToEnum(ev.Status)
			sub.StatusLegacy = NormalizeLegacyStatus(ev.Status)
			sub.TrialEndsAt = ev.TrialEndsAt
			sub.RenewalAt = ev.CurrentPeriodEnd
			sub.CancelAtPeriodEnd = ev.CancelAtPeriodEnd
			if ev.SubscriptionID != "" {
				sub.ProviderSubscriptionID = ev.SubscriptionID
			}
			if ev.CustomerID != "" {
				sub.ProviderCustomerID = ev.CustomerID
			}

		case EventSubscriptionDeleted:
			sub.StatusEnum = entitlements.StatusUnsubscribed
			sub.StatusLegacy = models.BillingStatusCanceled
			sub.PendingPlan = ""
			sub.RenewalAt = nil
			sub.CancelAtPeriodEnd = false
		}

		return r.SaveSubscription(sub)
	})
	return userID, err
}

func (s *Service) locateSubscription(r Repository, ev *Event) (*models.Subscription, error) {
	if ev.SubscriptionID != "" {
		sub, err := r.GetSubscriptionByProviderSubscriptionID(models.BillingProviderStripe, ev.SubscriptionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.CustomerID != "" {
		return r.GetSubscriptionByProviderCustomerID(models.BillingProviderStripe, ev.CustomerID)
	}
	return nil, gorm.ErrRecordNotFound
}

// Access resolves the current access level for a user, provisioning the
// default free subscription on first touch.
func (s *Service) Access(ctx context.Context, userID uint, now time.Time) (*models.Subscription, entitlements.Access, error) {
	_ = ctx
	sub, err := s.repo.GetOrCreateSubscription(userID)
	if err != nil {
		return nil, entitlements.Access{Level: entitlements.AccessNone}, err
	}
	access := entitlements.ResolveAccess(sub.StatusEnum, sub.StatusLegacy, sub.TrialEndsAt, now)
	return sub, access, nil
}

// BillingState assembles the overview backing dashboard gating. Callers are
// expected to degrade to SafeDefaultState when this returns an error.
func (s *Service) BillingState(ctx context.Context, userID uint, now time.Time) (*State, error) {
	sub, access, err := s.Access(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	plan := entitlements.NormalizePlan(sub.Plan)
	limits := s.catalog.Limits(plan)

	st := &State{
		Plan:                string(plan),
		PendingPlan:         sub.PendingPlan,
		AccessLevel:         access.Level,
		IsInTrial:           access.IsInTrial,
		TrialEndsAt:         sub.TrialEndsAt,
		RenewalAt:           sub.RenewalAt,
		CanChangePlan:       true,
		PaymentMethodOnFile: sub.PaymentMethodOnFile,
	}
	if sub.LastPlanChangeAt != nil {
		elapsed := now.Sub(*sub.LastPlanChangeAt)
		if elapsed < PlanChangeCooldown {
			st.CanChangePlan = false
			st.DaysUntilNextChange = cooldownDays - int(elapsed.Hours()/24)
		}
	}

	workflows, err := s.repo.CountActiveWorkflows(userID)
	if err != nil {
		return nil, err
	}
	executions, err := s.repo.CountExecutionsSince(userID, MonthStart(now))
	if err != nil {
		return nil, err
	}
	st.Usage.Workflows = UsageGauge{Current: workflows, Max: limits.MaxActiveWorkflows}
	st.Usage.Executions = UsageGauge{Current: executions, Max: limits.MaxMonthlyExecutions}

	return st, nil
}

// ResyncFromProvider re-pulls subscription state from the billing provider
// and reapplies it through the same normalization as a subscription.updated
// webhook. Used by the background resync job after transient webhook
// failures and for payment-method cache refresh during provider outages.
func (s *Service) ResyncFromProvider(ctx context.Context, userID uint, provider Provider, now time.Time) error {
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil {
		return err
	}
	if sub.ProviderSubscriptionID == "" {
		return nil
	}

	ps, err := provider.RetrieveSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	paymentMethodOnFile := sub.PaymentMethodOnFile
	if sub.ProviderCustomerID != "" {
		if methods, err := provider.ListPaymentMethods(ctx, sub.ProviderCustomerID); err == nil {
			paymentMethodOnFile = len(methods) > 0
		}
		// On provider errors the locally cached value stands.
	}

	return s.repo.WithTx(func(r Repository) error {
		fresh, err := r.GetSubscriptionByUserID(userID)
		if err != nil {
			return err
		}
		fresh.StatusEnum = ProviderStatusToEnum(ps.Status)
		fresh.StatusLegacy = NormalizeLegacyStatus(ps.Status)
		fresh.TrialEndsAt = ps.TrialEndsAt
		fresh.RenewalAt = ps.CurrentPeriodEnd
		fresh.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
		fresh.PaymentMethodOnFile = paymentMethodOnFile
		return r.SaveSubscription(fresh)
	})
}

// MonthStart returns the UTC start of the month containing t; execution
// limits reset on this boundary.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
