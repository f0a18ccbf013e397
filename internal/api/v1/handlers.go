package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/synthhq/synth/app/controllers"
	"github.com/synthhq/synth/internal/pkg/middleware"
)

// Pong is the ping endpoint response body.
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer implements the public v1 surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostRegister creates an account and returns the initial API key.
func (s *APIServer) PostRegister(c *fiber.Ctx) error {
	return controllers.HandleRegister(c)
}

// PostLogin verifies credentials.
func (s *APIServer) PostLogin(c *fiber.Ctx) error {
	return controllers.HandleLogin(c)
}

// PostBillingWebhook receives billing-provider deliveries. This route is
// public; authenticity comes from the signature, not an API key.
func (s *APIServer) PostBillingWebhook(c *fiber.Ctx) error {
	return controllers.HandleBillingWebhook(c)
}

// RegisterHandlers wires the v1 routes. Everything below the auth group
// requires a valid API key.
func RegisterHandlers(v1 fiber.Router, s *APIServer) {
	v1.Get("/ping", s.GetPing)
	v1.Post("/auth/register", s.PostRegister)
	v1.Post("/auth/login", s.PostLogin)
	v1.Post("/webhooks/billing", s.PostBillingWebhook)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())

	authed.Post("/account/api-key", controllers.HandleRotateAPIKey)
	authed.Delete("/account/api-key", controllers.HandleRevokeAPIKey)

	authed.Get("/billing", controllers.HandleGetBilling)
	authed.Post("/billing/plan", controllers.HandleRequestPlanChange)
	authed.Post("/billing/resync", controllers.HandleBillingResync)

	authed.Post("/workflows", controllers.HandleCreateWorkflow)
	authed.Get("/workflows", controllers.HandleListWorkflows)
	authed.Get("/workflows/:uuid", controllers.HandleGetWorkflow)
	authed.Put("/workflows/:uuid", controllers.HandleUpdateWorkflow)
	authed.Delete("/workflows/:uuid", controllers.HandleDeleteWorkflow)
	authed.Post("/workflows/:uuid/activate", controllers.HandleActivateWorkflow)
	authed.Post("/workflows/:uuid/pause", controllers.HandlePauseWorkflow)
	authed.Post("/workflows/:uuid/run", controllers.HandleRunWorkflow)
	authed.Get("/workflows/:uuid/executions", controllers.HandleListExecutions)
}
