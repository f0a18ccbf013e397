package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"
)

// QueueNotifier fans billing side effects out to background jobs so webhook
// reconciliation never blocks on SMTP or provider APIs.
type QueueNotifier struct{}

// NewBillingNotifier returns the notifier wired to the global job queue.
func NewBillingNotifier() *QueueNotifier {
	return &QueueNotifier{}
}

// PaymentFailed enqueues the payment-failed notification email.
func (n *QueueNotifier) PaymentFailed(userID uint) {
	payload := BillingEmailJobPayload{UserID: userID, Kind: BillingEmailPaymentFailed}
	if _, err := GetManager().GetQueue().EnqueueJob(JobTypeBillingEmail, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue payment-failed email for user %d: %v", userID, err)
	}
}

// PlanActivated enqueues the plan-activation notification email.
func (n *QueueNotifier) PlanActivated(userID uint, plan string) {
	payload := BillingEmailJobPayload{UserID: userID, Kind: BillingEmailPlanActivated, Plan: plan}
	if _, err := GetManager().GetQueue().EnqueueJob(JobTypeBillingEmail, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue plan-activated email for user %d: %v", userID, err)
	}
}

// EnqueueProviderResync schedules a background subscription resync for a user.
func EnqueueProviderResync(userID uint, reason string) (*Job, error) {
	payload := ProviderResyncJobPayload{UserID: userID, Reason: reason}
	return GetManager().GetQueue().EnqueueJob(JobTypeProviderResync, payload.ToMap())
}
