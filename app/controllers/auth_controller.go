package controllers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/app/repository"
	"github.com/synthhq/synth/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates an account and issues the first API key. The raw key
// is returned exactly once; only its hash is stored.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "validation_failed", "Name, email and password are required")
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to issue API key")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if _, err := repo.GetByEmail(user.Email); err == nil {
		return apiError(c, fiber.StatusConflict, "email_taken", "An account with this email already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}

	if err := repo.Create(user); err != nil {
		// A concurrent registration can slip past the pre-check and land on
		// the unique email index.
		if isDuplicateKeyError(err) {
			return apiError(c, fiber.StatusConflict, "email_taken", "An account with this email already exists")
		}
		log.Printf("user create failed: %v", err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Registration failed")
	}

	return apiSuccess(c, fiber.StatusCreated, fiber.Map{
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
		"api_key": rawKey,
	})
}

// isDuplicateKeyError matches unique-index violations. The Postgres driver
// translates some of these to gorm.ErrDuplicatedKey; the message check covers
// paths where translation is not active.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// HandleLogin verifies credentials and reports the stored API key prefix. It
// never returns the key itself; lost keys are rotated, not recovered.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}

	if !user.CheckPassword(req.Password) {
		return apiError(c, fiber.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	}
	if !user.IsActive() {
		return apiError(c, fiber.StatusForbidden, "forbidden", "Account is not active")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := repo.Update(user); err != nil {
		log.Printf("failed to update last login for user %d: %v", user.ID, err)
	}

	return apiSuccess(c, fiber.StatusOK, fiber.Map{
		"user": fiber.Map{
			"id":            user.ID,
			"name":          user.Name,
			"email":         user.Email,
			"last_login_at": formatTimePtr(user.LastLoginAt),
		},
		"api_key_prefix": user.APIKeyPrefix,
		"has_api_key":    user.HasActiveAPIKey(),
	})
}

// HandleRotateAPIKey replaces the caller's API key. The old key stops working
// immediately.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to issue API key")
	}
	if err := repo.Update(user); err != nil {
		log.Printf("api key rotation failed for user %d: %v", user.ID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to store API key")
	}

	return apiSuccess(c, fiber.StatusOK, fiber.Map{
		"api_key":        rawKey,
		"api_key_prefix": user.APIKeyPrefix,
	})
}

// HandleRevokeAPIKey disables the caller's API key without issuing a new one.
func HandleRevokeAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	user.RevokeAPIKey()
	if err := repo.Update(user); err != nil {
		log.Printf("api key revoke failed for user %d: %v", user.ID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to revoke API key")
	}

	return apiSuccess(c, fiber.StatusOK, fiber.Map{"revoked": true})
}
