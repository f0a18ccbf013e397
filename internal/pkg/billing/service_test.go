package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// fakeRepo is an in-memory Repository that also counts write side effects so
// idempotency can be asserted.
type fakeRepo struct {
	subs        map[uint]*models.Subscription
	events      map[string]*models.WebhookEvent
	nextEventID uint

	saveCalls int
	saveErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:   make(map[uint]*models.Subscription),
		events: make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeRepo) GetOrCreateSubscription(userID uint) (*models.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		return sub, nil
	}
	sub := &models.Subscription{ID: userID, UserID: userID, Plan: "free"}
	f.subs[userID] = sub
	return sub, nil
}

func (f *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByProviderSubscriptionID(provider, providerSubID string) (*models.Subscription, error) {
	for _, sub := range f.subs {
		if sub.ProviderSubscriptionID == providerSubID {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetSubscriptionByProviderCustomerID(provider, customerID string) (*models.Subscription, error) {
	for _, sub := range f.subs {
		if sub.ProviderCustomerID == customerID {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saveCalls++
	f.subs[sub.UserID] = sub
	return nil
}

func (f *fakeRepo) CompareAndSetPlanChange(userID uint, expected *time.Time, pendingPlan, billingPeriod string, now time.Time) (bool, error) {
	sub, ok := f.subs[userID]
	if !ok {
		return false, nil
	}
	if (expected == nil) != (sub.LastPlanChangeAt == nil) {
		return false, nil
	}
	if expected != nil && !expected.Equal(*sub.LastPlanChangeAt) {
		return false, nil
	}
	sub.PendingPlan = pendingPlan
	t := now
	sub.LastPlanChangeAt = &t
	if billingPeriod != "" {
		sub.BillingPeriod = billingPeriod
	}
	return true, nil
}

func (f *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := f.events[key]; ok {
		return false, stored, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	f.events[key] = event
	return true, event, nil
}

func (f *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, ev := range f.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) CountActiveWorkflows(userID uint) (int64, error)                  { return 3, nil }
func (f *fakeRepo) CountExecutionsSince(userID uint, since time.Time) (int64, error) { return 42, nil }

func (f *fakeRepo) WithTx(fn func(Repository) error) error { return fn(f) }

func newTestService(repo Repository) *Service {
	return NewService(repo, entitlements.DefaultCatalog(), nil)
}

const webhookSecret = "whsec_test"

func signedEvent(t *testing.T, now time.Time, id, eventType, body string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":%s}}`, id, eventType, body))
	return payload, SignWebhookPayload(payload, webhookSecret, now)
}

func TestRequestPlanChange_FirstChangeAccepted(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro", ProviderSubscriptionID: "sub_1"}
	svc := newTestService(repo)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	res, rej, err := svc.RequestPlanChange(context.Background(), 1, "starter", "month", now)
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.Equal(t, "pro", res.CurrentPlan)
	assert.Equal(t, "starter", res.PendingPlan)
	require.NotNil(t, repo.subs[1].LastPlanChangeAt)
	assert.True(t, repo.subs[1].LastPlanChangeAt.Equal(now))
	assert.Equal(t, "starter", repo.subs[1].PendingPlan)
}

func TestRequestPlanChange_Rejections(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("already on plan", func(t *testing.T) {
		repo := newFakeRepo()
		repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro"}
		_, rej, err := newTestService(repo).RequestPlanChange(context.Background(), 1, "pro", "month", now)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, CodeAlreadyOnPlan, rej.Code)
	})

	t.Run("duplicate pending request", func(t *testing.T) {
		repo := newFakeRepo()
		repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro", PendingPlan: "starter"}
		_, rej, err := newTestService(repo).RequestPlanChange(context.Background(), 1, "starter", "month", now)
		require.NoError(t, err)
		require.NotNil(t, rej)
		assert.Equal(t, CodePendingPlanSame, rej.Code)
	})

	t.Run("same plan with pending downgrade is allowed", func(t *testing.T) {
		// User on pro with a pending starter downgrade may switch back to pro.
		repo := newFakeRepo()
		repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro", PendingPlan: "starter"}
		res, rej, err := newTestService(repo).RequestPlanChange(context.Background(), 1, "pro", "month", now)
		require.NoError(t, err)
		require.Nil(t, rej)
		assert.Equal(t, "pro", res.PendingPlan)
	})
}

func TestRequestPlanChange_CooldownMonotonicity(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mkRepo := func() *fakeRepo {
		repo := newFakeRepo()
		last := base
		repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro", LastPlanChangeAt: &last}
		return repo
	}

	// 13 days in: rejected with one day remaining.
	repo := mkRepo()
	_, rej, err := newTestService(repo).RequestPlanChange(context.Background(), 1, "starter", "month", base.Add(13*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, rej)
	assert.Equal(t, CodePlanChangeCooldown, rej.Code)
	assert.Equal(t, 1, rej.DaysRemaining)

	// Exactly 14 days: accepted.
	repo = mkRepo()
	res, rej, err := newTestService(repo).RequestPlanChange(context.Background(), 1, "starter", "month", base.Add(14*24*time.Hour))
	require.NoError(t, err)
	require.Nil(t, rej)
	assert.Equal(t, "starter", res.PendingPlan)
}

func TestRequestPlanChange_LostRaceIsConflict(t *testing.T) {
	repo := newFakeRepo()
	winner := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.subs[1] = &models.Subscription{UserID: 1, Plan: "pro"}
	svc := newTestService(repo)

	// Simulate a concurrent request landing between the guard read and the
	// CAS write by pre-setting last_plan_change_at after the read path sees
	// nil. The fake's CAS compares against the stored value.
	sub, _ := repo.GetOrCreateSubscription(1)
	readSnapshot := sub.LastPlanChangeAt // nil at read time
	sub.LastPlanChangeAt = &winner

	ok, err := repo.CompareAndSetPlanChange(1, readSnapshot, "starter", "month", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	_ = svc
}

func TestProcessWebhook_InvalidSignatureRecordsNothing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	now := time.Now()

	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"object":{}}}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, "t=0,v1=deadbeef", webhookSecret, now)
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.False(t, out.Retryable)
	assert.Equal(t, "invalid_signature", out.Code)
	assert.Empty(t, repo.events)
}

func TestProcessWebhook_IdempotentReplay(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[7] = &models.Subscription{UserID: 7, Plan: "pro", PendingPlan: "starter", ProviderSubscriptionID: "sub_7"}
	svc := newTestService(repo)
	now := time.Now()

	payload, sig := signedEvent(t, now, "evt_10", EventInvoicePaymentSucceeded, `{"customer":"cus_7","subscription":"sub_7"}`)

	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, uint(7), out.UserID)
	savesAfterFirst := repo.saveCalls
	assert.Equal(t, "starter", repo.subs[7].Plan)
	assert.Empty(t, repo.subs[7].PendingPlan)

	// Redelivery: acknowledged without reapplying effects.
	out, err = svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.Duplicate)
	assert.Equal(t, savesAfterFirst, repo.saveCalls)
}

func TestProcessWebhook_FailedPaymentThenRetrySuccess(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[3] = &models.Subscription{
		UserID:                 3,
		Plan:                   "starter",
		StatusEnum:             entitlements.StatusSubscribed,
		ProviderSubscriptionID: "sub_3",
	}
	svc := newTestService(repo)
	now := time.Now()

	payload, sig := signedEvent(t, now, "evt_f1", EventInvoicePaymentFailed, `{"customer":"cus_3","subscription":"sub_3"}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	require.True(t, out.OK)

	access := entitlements.ResolveAccess(repo.subs[3].StatusEnum, repo.subs[3].StatusLegacy, repo.subs[3].TrialEndsAt, now)
	assert.Equal(t, entitlements.AccessMinimal, access.Level)
	assert.Equal(t, models.BillingStatusPastDue, repo.subs[3].StatusLegacy)

	payload, sig = signedEvent(t, now, "evt_s1", EventInvoicePaymentSucceeded, `{"customer":"cus_3","subscription":"sub_3"}`)
	out, err = svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	require.True(t, out.OK)

	access = entitlements.ResolveAccess(repo.subs[3].StatusEnum, repo.subs[3].StatusLegacy, repo.subs[3].TrialEndsAt, now)
	assert.Equal(t, entitlements.AccessFull, access.Level)
}

func TestProcessWebhook_PendingPlanIsolation(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[9] = &models.Subscription{
		UserID:                 9,
		Plan:                   "pro",
		StatusEnum:             entitlements.StatusSubscribed,
		ProviderSubscriptionID: "sub_9",
	}
	svc := newTestService(repo)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, rej, err := svc.RequestPlanChange(context.Background(), 9, "starter", "month", now)
	require.NoError(t, err)
	require.Nil(t, rej)

	// While pending, the overview still reports pro limits.
	st, err := svc.BillingState(context.Background(), 9, now)
	require.NoError(t, err)
	assert.Equal(t, "pro", st.Plan)
	assert.Equal(t, "starter", st.PendingPlan)
	require.NotNil(t, st.Usage.Workflows.Max)
	assert.Equal(t, int64(25), *st.Usage.Workflows.Max)

	payload, sig := signedEvent(t, now, "evt_p1", EventInvoicePaymentSucceeded, `{"customer":"cus_9","subscription":"sub_9"}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	require.True(t, out.OK)

	st, err = svc.BillingState(context.Background(), 9, now)
	require.NoError(t, err)
	assert.Equal(t, "starter", st.Plan)
	assert.Empty(t, st.PendingPlan)
	require.NotNil(t, st.Usage.Workflows.Max)
	assert.Equal(t, int64(5), *st.Usage.Workflows.Max)
}

func TestProcessWebhook_SubscriptionLifecycle(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[4] = &models.Subscription{UserID: 4, Plan: "starter", ProviderCustomerID: "cus_4"}
	svc := newTestService(repo)
	now := time.Now()

	trialEnd := now.Add(7 * 24 * time.Hour).Unix()
	renewal := now.Add(30 * 24 * time.Hour).Unix()
	body := fmt.Sprintf(`{"id":"sub_4","customer":"cus_4","status":"trialing","trial_end":%d,"current_period_end":%d}`, trialEnd, renewal)
	payload, sig := signedEvent(t, now, "evt_c1", EventSubscriptionCreated, body)

	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	require.True(t, out.OK)

	sub := repo.subs[4]
	assert.Equal(t, entitlements.StatusSubscribed, sub.StatusEnum)
	assert.Equal(t, "sub_4", sub.ProviderSubscriptionID)
	require.NotNil(t, sub.TrialEndsAt)
	require.NotNil(t, sub.RenewalAt)

	// Terminal delete clears forward-looking fields.
	sub.PendingPlan = "pro"
	payload, sig = signedEvent(t, now, "evt_d1", EventSubscriptionDeleted, `{"id":"sub_4","customer":"cus_4","status":"canceled"}`)
	out, err = svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	require.True(t, out.OK)

	assert.Equal(t, entitlements.StatusUnsubscribed, sub.StatusEnum)
	assert.Equal(t, models.BillingStatusCanceled, sub.StatusLegacy)
	assert.Empty(t, sub.PendingPlan)
	assert.Nil(t, sub.RenewalAt)
}

func TestProcessWebhook_UnknownTypeIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	now := time.Now()

	payload, sig := signedEvent(t, now, "evt_u1", "charge.refund.updated", `{"id":"re_1"}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.Ignored)
	assert.Zero(t, repo.saveCalls)

	stored := repo.events[models.BillingProviderStripe+":evt_u1"]
	require.NotNil(t, stored)
	assert.True(t, stored.Processed())
}

func TestProcessWebhook_EffectFailureIsRetryable(t *testing.T) {
	repo := newFakeRepo()
	repo.subs[5] = &models.Subscription{UserID: 5, Plan: "starter", ProviderSubscriptionID: "sub_5"}
	repo.saveErr = errors.New("db timeout")
	svc := newTestService(repo)
	now := time.Now()

	payload, sig := signedEvent(t, now, "evt_r1", EventInvoicePaymentSucceeded, `{"customer":"cus_5","subscription":"sub_5"}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.Error(t, err)
	assert.True(t, out.Retryable)

	stored := repo.events[models.BillingProviderStripe+":evt_r1"]
	require.NotNil(t, stored)
	assert.False(t, stored.Processed())
	assert.Contains(t, stored.ProcessingError, "db timeout")

	// Provider redelivers after the transient failure clears; the retried
	// delivery applies exactly once.
	repo.saveErr = nil
	out, err = svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.False(t, out.Duplicate)
	assert.Equal(t, entitlements.StatusSubscribed, repo.subs[5].StatusEnum)
	assert.True(t, stored.Processed())
}

func TestProcessWebhook_UnmatchedSubscriptionIgnored(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	now := time.Now()

	payload, sig := signedEvent(t, now, "evt_x1", EventInvoicePaymentSucceeded, `{"customer":"cus_missing","subscription":"sub_missing"}`)
	out, err := svc.ProcessWebhook(context.Background(), payload, sig, webhookSecret, now)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.True(t, out.Ignored)
}

func TestBillingState_Cooldown(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	last := now.Add(-10 * 24 * time.Hour)
	repo.subs[2] = &models.Subscription{
		UserID:           2,
		Plan:             "starter",
		StatusEnum:       entitlements.StatusSubscribed,
		LastPlanChangeAt: &last,
	}
	svc := newTestService(repo)

	st, err := svc.BillingState(context.Background(), 2, now)
	require.NoError(t, err)
	assert.False(t, st.CanChangePlan)
	assert.Equal(t, 4, st.DaysUntilNextChange)
	assert.Equal(t, entitlements.AccessFull, st.AccessLevel)
	assert.Equal(t, int64(3), st.Usage.Workflows.Current)
	assert.Equal(t, int64(42), st.Usage.Executions.Current)
}
