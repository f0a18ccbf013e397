package middleware

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/app/repository"
	"github.com/synthhq/synth/internal/pkg/billing"
	"github.com/synthhq/synth/internal/pkg/database"
	"github.com/synthhq/synth/internal/pkg/entitlements"
	"github.com/synthhq/synth/internal/pkg/usercontext"
)

// APIKeyAuthMiddleware authenticates requests carrying a user API key header
// and attaches the resolved plan and access level to the request context.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		db := database.GetDB()
		if db == nil {
			log.Print("api key middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashAPIKey(apiKey)
		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Printf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		// Access resolution must never lock a user out of the API because
		// billing reads failed; degrade to minimal instead.
		now := time.Now()
		plan := entitlements.PlanFree
		access := entitlements.Access{Level: entitlements.AccessMinimal}
		svc := billing.NewServiceFromDB(db, nil)
		if sub, resolved, err := svc.Access(c.Context(), user.ID, now); err == nil {
			plan = entitlements.NormalizePlan(sub.Plan)
			access = resolved
		} else {
			log.Printf("access resolution failed for user %d: %v", user.ID, err)
		}

		// Refresh last-used timestamp best-effort.
		if err := repo.TouchAPIKeyUsage(user.ID, now); err != nil {
			log.Printf("failed to update api key usage timestamp for user %d: %v", user.ID, err)
		}

		userCtx := usercontext.UserContext{
			UserID:      user.ID,
			Username:    user.Name,
			IsLoggedIn:  true,
			IsAdmin:     user.Role == models.ROLE_ADMIN,
			Plan:        plan,
			AccessLevel: access.Level,
			IsInTrial:   access.IsInTrial,
		}
		c.Locals("USER_CONTEXT", userCtx)
		c.Locals(usercontext.KeyFromProtected, true)
		c.Locals(usercontext.KeyUserID, user.ID)
		c.Locals(usercontext.KeyUsername, user.Name)
		c.Locals(usercontext.KeyIsAdmin, user.Role == models.ROLE_ADMIN)

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
