package jobqueue

import (
	"context"
	"fmt"

	"github.com/synthhq/synth/app/repository"
	"github.com/synthhq/synth/internal/pkg/entitlements"
	"github.com/synthhq/synth/internal/pkg/mail"
)

// processBillingEmailJob sends a billing notification email for the payload's
// user. Mail failures are returned so the queue's retry handling applies.
func (q *Queue) processBillingEmailJob(ctx context.Context, job *Job) error {
	_ = ctx
	payload, err := BillingEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid billing email payload: %w", err)
	}
	if payload.UserID == 0 {
		return fmt.Errorf("billing email payload missing user id")
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(payload.UserID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", payload.UserID, err)
	}

	subject, body, err := billingEmailContent(payload.Kind, user.Name, payload.Plan)
	if err != nil {
		return err
	}
	return mail.SendMail(user.Email, subject, body)
}

func billingEmailContent(kind, name, plan string) (string, string, error) {
	switch kind {
	case BillingEmailPaymentFailed:
		subject := "Payment failed - action required"
		body := fmt.Sprintf(
			"<p>Hi %s,</p><p>Your latest payment could not be processed. "+
				"Your account has been switched to limited access until payment succeeds. "+
				"Please update your payment method to restore full access.</p>", name)
		return subject, body, nil
	case BillingEmailPlanActivated:
		planName := string(entitlements.NormalizePlan(plan))
		subject := fmt.Sprintf("Your %s plan is now active", planName)
		body := fmt.Sprintf(
			"<p>Hi %s,</p><p>Your plan change is complete: you are now on the <strong>%s</strong> plan. "+
				"New limits and integrations are available immediately.</p>", name, planName)
		return subject, body, nil
	default:
		return "", "", fmt.Errorf("unknown billing email kind: %s", kind)
	}
}
