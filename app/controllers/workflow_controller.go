package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/app/repository"
	"github.com/synthhq/synth/internal/pkg/entitlements"
	"github.com/synthhq/synth/internal/pkg/integrations"
	"github.com/synthhq/synth/internal/pkg/usage"
	"github.com/synthhq/synth/internal/pkg/usercontext"
)

type workflowRequest struct {
	Name    string              `json:"name"`
	Trigger integrations.Step   `json:"trigger"`
	Actions []integrations.Step `json:"actions"`
}

const defaultPageSize = 50

// HandleCreateWorkflow stores a new draft workflow. Drafts are always allowed;
// plan and integration gating happens at activation.
func HandleCreateWorkflow(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return apiError(c, fiber.StatusBadRequest, "validation_failed", "Workflow name is required")
	}

	triggerJSON, actionsJSON, err := encodeDefinition(req.Trigger, req.Actions)
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid workflow definition")
	}

	workflow := &models.Workflow{
		UUID:        uuid.New().String(),
		UserID:      userCtx.UserID,
		Name:        strings.TrimSpace(req.Name),
		Status:      models.WorkflowStatusDraft,
		TriggerJSON: triggerJSON,
		ActionsJSON: actionsJSON,
	}
	if err := repository.GetGlobalFactory().GetWorkflowRepository().Create(workflow); err != nil {
		log.Errorf("workflow create failed for user %d: %v", userCtx.UserID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create workflow")
	}

	return apiSuccess(c, fiber.StatusCreated, fiber.Map{"workflow": workflowResponse(workflow)})
}

// HandleListWorkflows returns the caller's workflows, newest first.
func HandleListWorkflows(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	repo := repository.GetGlobalFactory().GetWorkflowRepository()
	workflows, err := repo.GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load workflows")
	}
	total, err := repo.CountByUserID(userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load workflows")
	}

	items := make([]fiber.Map, 0, len(workflows))
	for i := range workflows {
		items = append(items, workflowResponse(&workflows[i]))
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflows": items, "total": total})
}

// HandleGetWorkflow returns one workflow by UUID.
func HandleGetWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflow": workflowResponse(workflow)})
}

// HandleUpdateWorkflow replaces name and definition. Updating an active
// workflow re-validates its integrations against the current plan.
func HandleUpdateWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}

	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	triggerJSON, actionsJSON, err := encodeDefinition(req.Trigger, req.Actions)
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid workflow definition")
	}

	if workflow.Status == models.WorkflowStatusActive {
		def, err := integrations.ParseDefinition(triggerJSON, actionsJSON)
		if err != nil {
			return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid workflow definition")
		}
		if result := integrations.ValidateWorkflow(usercontext.GetPlan(c), def); !result.Valid {
			return restrictedIntegrationsError(c, result)
		}
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		workflow.Name = name
	}
	workflow.TriggerJSON = triggerJSON
	workflow.ActionsJSON = actionsJSON

	if err := repository.GetGlobalFactory().GetWorkflowRepository().Update(workflow); err != nil {
		log.Errorf("workflow update failed for %s: %v", workflow.UUID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to update workflow")
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflow": workflowResponse(workflow)})
}

// HandleDeleteWorkflow soft deletes a workflow.
func HandleDeleteWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}
	if err := repository.GetGlobalFactory().GetWorkflowRepository().Delete(workflow.ID); err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete workflow")
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"deleted": true})
}

// HandleActivateWorkflow switches a workflow to active. This is where the
// entitlement gates run: full access, the active-workflow limit, and the
// integration allow-list for the caller's plan.
func HandleActivateWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}
	userCtx := usercontext.GetUserContext(c)

	access := entitlements.Access{Level: userCtx.AccessLevel, IsInTrial: userCtx.IsInTrial}
	plan := usercontext.GetPlan(c)
	catalog := entitlements.DefaultCatalog()

	if workflow.Status == models.WorkflowStatusActive {
		return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflow": workflowResponse(workflow)})
	}

	// Without full access every limit check fails; report that as its own
	// condition so the caller is told to fix billing, not to free capacity.
	if !access.HasFullAccess() {
		return apiError(c, fiber.StatusForbidden, "subscription_required", "An active subscription is required to activate workflows")
	}

	repo := repository.GetGlobalFactory().GetWorkflowRepository()
	activeCount, err := repo.CountActiveByUserID(userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check workflow limit")
	}
	if !catalog.CheckLimit(access, plan, entitlements.LimitActiveWorkflows, activeCount) {
		return apiError(c, fiber.StatusForbidden, "limit_reached", "Active workflow limit reached for your plan")
	}

	def, err := integrations.ParseDefinition(workflow.TriggerJSON, workflow.ActionsJSON)
	if err != nil {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "Invalid workflow definition")
	}
	if result := integrations.ValidateWorkflow(plan, def); !result.Valid {
		return restrictedIntegrationsError(c, result)
	}

	workflow.Status = models.WorkflowStatusActive
	if err := repo.Update(workflow); err != nil {
		log.Errorf("workflow activation failed for %s: %v", workflow.UUID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to activate workflow")
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflow": workflowResponse(workflow)})
}

// HandlePauseWorkflow switches a workflow back to paused. Pausing is always
// allowed; it only ever frees capacity.
func HandlePauseWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}
	workflow.Status = models.WorkflowStatusPaused
	if err := repository.GetGlobalFactory().GetWorkflowRepository().Update(workflow); err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to pause workflow")
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"workflow": workflowResponse(workflow)})
}

// HandleRunWorkflow records one execution of an active workflow after the
// monthly execution limit check.
func HandleRunWorkflow(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}
	userCtx := usercontext.GetUserContext(c)

	if workflow.Status != models.WorkflowStatusActive {
		return apiError(c, fiber.StatusConflict, "not_active", "Workflow is not active")
	}

	now := time.Now()
	access := entitlements.Access{Level: userCtx.AccessLevel, IsInTrial: userCtx.IsInTrial}
	plan := usercontext.GetPlan(c)

	if !access.HasFullAccess() {
		return apiError(c, fiber.StatusForbidden, "subscription_required", "An active subscription is required to run workflows")
	}

	monthly, err := usage.MonthlyExecutions(userCtx.UserID, now)
	if err != nil {
		log.Warnf("monthly usage read failed for user %d, falling back to db: %v", userCtx.UserID, err)
		monthStart := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
		monthly, err = repository.GetGlobalFactory().GetWorkflowRepository().CountExecutionsByUserSince(userCtx.UserID, monthStart)
		if err != nil {
			return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check execution limit")
		}
	}
	if !entitlements.DefaultCatalog().CheckLimit(access, plan, entitlements.LimitMonthlyExecutions, monthly) {
		return apiError(c, fiber.StatusForbidden, "limit_reached", "Monthly execution limit reached for your plan")
	}

	execution := &models.WorkflowExecution{
		UUID:       uuid.New().String(),
		WorkflowID: workflow.ID,
		UserID:     userCtx.UserID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  now,
	}
	if err := repository.GetGlobalFactory().GetWorkflowRepository().CreateExecution(execution); err != nil {
		log.Errorf("execution create failed for workflow %s: %v", workflow.UUID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to record execution")
	}
	if err := usage.AddExecution(workflow.ID, userCtx.UserID, now); err != nil {
		log.Warnf("usage counter update failed for workflow %d: %v", workflow.ID, err)
	}

	return apiSuccess(c, fiber.StatusAccepted, fiber.Map{"execution": fiber.Map{
		"uuid":       execution.UUID,
		"status":     execution.Status,
		"started_at": execution.StartedAt.UTC().Format(time.RFC3339),
	}})
}

// HandleListExecutions returns the execution history of one workflow.
func HandleListExecutions(c *fiber.Ctx) error {
	workflow, errResp := loadOwnedWorkflow(c)
	if errResp != nil {
		return errResp
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > 200 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	executions, err := repository.GetGlobalFactory().GetWorkflowRepository().GetExecutionsByWorkflow(workflow.ID, offset, limit)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load executions")
	}

	items := make([]fiber.Map, 0, len(executions))
	for _, e := range executions {
		items = append(items, fiber.Map{
			"uuid":        e.UUID,
			"status":      e.Status,
			"started_at":  e.StartedAt.UTC().Format(time.RFC3339),
			"finished_at": formatTimePtr(e.FinishedAt),
		})
	}
	return apiSuccess(c, fiber.StatusOK, fiber.Map{"executions": items})
}

func loadOwnedWorkflow(c *fiber.Ctx) (*models.Workflow, error) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return nil, apiError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	id := strings.TrimSpace(c.Params("uuid"))
	if id == "" {
		return nil, apiError(c, fiber.StatusBadRequest, "bad_request", "Workflow id missing")
	}

	workflow, err := repository.GetGlobalFactory().GetWorkflowRepository().GetByUUID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apiError(c, fiber.StatusNotFound, "not_found", "Workflow not found")
		}
		return nil, apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load workflow")
	}
	// Ownership checks answer 404, not 403, to avoid leaking workflow ids.
	if workflow.UserID != userCtx.UserID {
		return nil, apiError(c, fiber.StatusNotFound, "not_found", "Workflow not found")
	}
	return workflow, nil
}

func restrictedIntegrationsError(c *fiber.Ctx, result integrations.ValidationResult) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"success":                 false,
		"code":                    "restricted_integrations",
		"message":                 "Workflow uses integrations not available on your plan",
		"restricted_integrations": result.Restricted,
	})
}

func encodeDefinition(trigger integrations.Step, actions []integrations.Step) (string, string, error) {
	triggerJSON, err := integrations.EncodeStep(trigger)
	if err != nil {
		return "", "", err
	}
	actionsJSON, err := integrations.EncodeSteps(actions)
	if err != nil {
		return "", "", err
	}
	return triggerJSON, actionsJSON, nil
}

func workflowResponse(w *models.Workflow) fiber.Map {
	return fiber.Map{
		"uuid":            w.UUID,
		"name":            w.Name,
		"status":          w.Status,
		"trigger":         w.TriggerJSON,
		"actions":         w.ActionsJSON,
		"execution_count": w.ExecutionCount,
		"created_at":      w.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
