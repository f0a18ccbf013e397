package controllers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/synthhq/synth/internal/pkg/billing"
	"github.com/synthhq/synth/internal/pkg/cache"
	"github.com/synthhq/synth/internal/pkg/database"
	"github.com/synthhq/synth/internal/pkg/entitlements"
	"github.com/synthhq/synth/internal/pkg/env"
	"github.com/synthhq/synth/internal/pkg/jobqueue"
	"github.com/synthhq/synth/internal/pkg/usercontext"
)

const billingStateCacheTTL = 60 * time.Second

// HandleGetBilling returns the billing overview for the authenticated user.
// It reads through a short-lived cache and degrades to the safe default state
// when internal reads fail; the dashboard must always get a renderable answer.
func HandleGetBilling(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	cacheKey := billing.StateCacheKey(userCtx.UserID)
	if cached, err := cache.Get(cacheKey); err == nil && cached != "" {
		var st billing.State
		if err := json.Unmarshal([]byte(cached), &st); err == nil {
			return apiSuccess(c, fiber.StatusOK, fiber.Map{"billing": st, "degraded": false})
		}
	}

	svc := billing.NewServiceFromDB(database.GetDB(), jobqueue.NewBillingNotifier())
	st, err := svc.BillingState(c.Context(), userCtx.UserID, time.Now())
	if err != nil {
		log.Errorf("billing state read failed for user %d: %v", userCtx.UserID, err)
		return apiSuccess(c, fiber.StatusOK, fiber.Map{"billing": billing.SafeDefaultState(), "degraded": true})
	}

	if data, err := json.Marshal(st); err == nil {
		if err := cache.Set(cacheKey, string(data), billingStateCacheTTL); err != nil {
			log.Warnf("billing state cache write failed for user %d: %v", userCtx.UserID, err)
		}
	}

	return apiSuccess(c, fiber.StatusOK, fiber.Map{"billing": st, "degraded": false})
}

type planChangeRequest struct {
	Plan          string `json:"plan"`
	BillingPeriod string `json:"billing_period"`
}

// HandleRequestPlanChange applies the plan-change guard and records the
// pending plan. The new plan takes effect on the next successful invoice.
func HandleRequestPlanChange(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req planChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	target := strings.ToLower(strings.TrimSpace(req.Plan))
	if !entitlements.IsKnownPlan(target) {
		return apiError(c, fiber.StatusBadRequest, "unknown_plan", "Unknown plan: "+target)
	}

	svc := billing.NewServiceFromDB(database.GetDB(), jobqueue.NewBillingNotifier())
	result, rejection, err := svc.RequestPlanChange(c.Context(), userCtx.UserID, target, req.BillingPeriod, time.Now())
	if err != nil {
		log.Errorf("plan change failed for user %d: %v", userCtx.UserID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Plan change failed")
	}
	if rejection != nil {
		body := fiber.Map{
			"success": false,
			"code":    rejection.Code,
			"message": planChangeRejectionMessage(rejection),
		}
		if rejection.Code == billing.CodePlanChangeCooldown {
			body["days_remaining"] = rejection.DaysRemaining
		}
		return c.Status(fiber.StatusConflict).JSON(body)
	}

	if err := cache.Delete(billing.StateCacheKey(userCtx.UserID)); err != nil {
		log.Warnf("billing state cache invalidation failed for user %d: %v", userCtx.UserID, err)
	}

	return apiSuccess(c, fiber.StatusAccepted, fiber.Map{
		"plan":         result.CurrentPlan,
		"pending_plan": result.PendingPlan,
		"message":      "Plan change scheduled; it takes effect with the next successful payment",
	})
}

func planChangeRejectionMessage(r *billing.Rejection) string {
	switch r.Code {
	case billing.CodeAlreadyOnPlan:
		return "You are already on this plan"
	case billing.CodePendingPlanSame:
		return "A change to this plan is already pending"
	case billing.CodePlanChangeCooldown:
		return "Plan was changed recently; please wait before changing again"
	case billing.CodePlanChangeConflict:
		return "Another plan change request was processed at the same time; please retry"
	default:
		return "Plan change rejected"
	}
}

// HandleBillingWebhook receives billing-provider webhook deliveries. Invalid
// signatures are permanent 4xx rejections with no state recorded; transient
// processing failures answer 5xx so the provider redelivers.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	if signature == "" {
		signature = strings.TrimSpace(c.Get("X-Webhook-Signature"))
	}
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")

	svc := billing.NewServiceFromDB(database.GetDB(), jobqueue.NewBillingNotifier())
	outcome, err := svc.ProcessWebhook(c.Context(), rawBody, signature, secret, time.Now())
	if err != nil {
		log.Errorf("webhook processing failed (event=%s code=%s): %v", outcome.EventID, outcome.Code, err)
	}

	switch {
	case outcome.OK:
		if outcome.UserID != 0 {
			if err := cache.Delete(billing.StateCacheKey(outcome.UserID)); err != nil {
				log.Warnf("billing state cache invalidation failed for user %d: %v", outcome.UserID, err)
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":        true,
			"duplicate": outcome.Duplicate,
			"ignored":   outcome.Ignored,
		})
	case outcome.Retryable:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": outcome.Code})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": outcome.Code})
	}
}

// HandleBillingResync schedules a background re-pull of the user's
// subscription state from the billing provider.
func HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	job, err := jobqueue.EnqueueProviderResync(userCtx.UserID, "user requested")
	if err != nil {
		log.Errorf("failed to enqueue resync for user %d: %v", userCtx.UserID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to schedule resync")
	}

	return apiSuccess(c, fiber.StatusAccepted, fiber.Map{"job_id": job.ID})
}
