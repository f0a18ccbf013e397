package controllers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/app/repository"
	"github.com/synthhq/synth/internal/pkg/entitlements"
	"github.com/synthhq/synth/internal/pkg/usercontext"
)

type fakeWorkflowRepo struct {
	byUUID      map[string]*models.Workflow
	activeCount int64
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{byUUID: map[string]*models.Workflow{}}
}

func (r *fakeWorkflowRepo) Create(w *models.Workflow) error {
	r.byUUID[w.UUID] = w
	return nil
}

func (r *fakeWorkflowRepo) GetByID(id uint) (*models.Workflow, error) {
	for _, w := range r.byUUID {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeWorkflowRepo) GetByUUID(uuid string) (*models.Workflow, error) {
	if w, ok := r.byUUID[uuid]; ok {
		return w, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeWorkflowRepo) GetByUserID(userID uint, offset, limit int) ([]models.Workflow, error) {
	return nil, nil
}

func (r *fakeWorkflowRepo) Update(w *models.Workflow) error {
	r.byUUID[w.UUID] = w
	return nil
}

func (r *fakeWorkflowRepo) Delete(id uint) error { return nil }

func (r *fakeWorkflowRepo) CountByUserID(userID uint) (int64, error) { return 0, nil }

func (r *fakeWorkflowRepo) CountActiveByUserID(userID uint) (int64, error) {
	return r.activeCount, nil
}

func (r *fakeWorkflowRepo) CreateExecution(e *models.WorkflowExecution) error { return nil }

func (r *fakeWorkflowRepo) FinishExecution(executionID uint, status string, at time.Time) error {
	return nil
}

func (r *fakeWorkflowRepo) GetExecutionsByWorkflow(workflowID uint, offset, limit int) ([]models.WorkflowExecution, error) {
	return nil, nil
}

func (r *fakeWorkflowRepo) CountExecutionsByUserSince(userID uint, since time.Time) (int64, error) {
	return 0, nil
}

// newWorkflowTestApp wires a handler behind an injected user context, the way
// the API key middleware would populate it.
func newWorkflowTestApp(method, path string, ctx usercontext.UserContext, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Add(method, path, func(c *fiber.Ctx) error {
		c.Locals("USER_CONTEXT", ctx)
		return handler(c)
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp.StatusCode, decoded
}

func TestHandleActivateWorkflow_MinimalAccessNeedsSubscription(t *testing.T) {
	repo := newFakeWorkflowRepo()
	repo.byUUID["wf-1"] = &models.Workflow{
		ID:          1,
		UUID:        "wf-1",
		UserID:      7,
		Name:        "Daily digest",
		Status:      models.WorkflowStatusDraft,
		TriggerJSON: `{"type":"manual"}`,
		ActionsJSON: `[]`,
	}
	repository.SetGlobalRepositories(&repository.Repositories{Workflow: repo})

	// A pro-plan user whose subscription lapsed has minimal access. The
	// answer must point at billing, not at the workflow limit.
	ctx := usercontext.UserContext{
		UserID:      7,
		IsLoggedIn:  true,
		Plan:        entitlements.PlanPro,
		AccessLevel: entitlements.AccessMinimal,
	}
	app := newWorkflowTestApp(fiber.MethodPost, "/workflows/:uuid/activate", ctx, HandleActivateWorkflow)

	status, body := doRequest(t, app, fiber.MethodPost, "/workflows/wf-1/activate")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "subscription_required", body["code"])
	assert.Equal(t, models.WorkflowStatusDraft, repo.byUUID["wf-1"].Status)
}

func TestHandleActivateWorkflow_FullAccessActivates(t *testing.T) {
	repo := newFakeWorkflowRepo()
	repo.byUUID["wf-2"] = &models.Workflow{
		ID:          2,
		UUID:        "wf-2",
		UserID:      7,
		Name:        "Daily digest",
		Status:      models.WorkflowStatusDraft,
		TriggerJSON: `{"type":"manual"}`,
		ActionsJSON: `[]`,
	}
	repository.SetGlobalRepositories(&repository.Repositories{Workflow: repo})

	ctx := usercontext.UserContext{
		UserID:      7,
		IsLoggedIn:  true,
		Plan:        entitlements.PlanPro,
		AccessLevel: entitlements.AccessFull,
	}
	app := newWorkflowTestApp(fiber.MethodPost, "/workflows/:uuid/activate", ctx, HandleActivateWorkflow)

	status, body := doRequest(t, app, fiber.MethodPost, "/workflows/wf-2/activate")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, models.WorkflowStatusActive, repo.byUUID["wf-2"].Status)
}

func TestHandleActivateWorkflow_LimitStillReported(t *testing.T) {
	repo := newFakeWorkflowRepo()
	repo.activeCount = 5
	repo.byUUID["wf-3"] = &models.Workflow{
		ID:          3,
		UUID:        "wf-3",
		UserID:      7,
		Name:        "One too many",
		Status:      models.WorkflowStatusDraft,
		TriggerJSON: `{"type":"manual"}`,
		ActionsJSON: `[]`,
	}
	repository.SetGlobalRepositories(&repository.Repositories{Workflow: repo})

	ctx := usercontext.UserContext{
		UserID:      7,
		IsLoggedIn:  true,
		Plan:        entitlements.PlanStarter,
		AccessLevel: entitlements.AccessFull,
	}
	app := newWorkflowTestApp(fiber.MethodPost, "/workflows/:uuid/activate", ctx, HandleActivateWorkflow)

	status, body := doRequest(t, app, fiber.MethodPost, "/workflows/wf-3/activate")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "limit_reached", body["code"])
}

func TestHandleRunWorkflow_MinimalAccessNeedsSubscription(t *testing.T) {
	repo := newFakeWorkflowRepo()
	repo.byUUID["wf-4"] = &models.Workflow{
		ID:          4,
		UUID:        "wf-4",
		UserID:      7,
		Name:        "Lapsed runner",
		Status:      models.WorkflowStatusActive,
		TriggerJSON: `{"type":"manual"}`,
		ActionsJSON: `[]`,
	}
	repository.SetGlobalRepositories(&repository.Repositories{Workflow: repo})

	ctx := usercontext.UserContext{
		UserID:      7,
		IsLoggedIn:  true,
		Plan:        entitlements.PlanPro,
		AccessLevel: entitlements.AccessMinimal,
	}
	app := newWorkflowTestApp(fiber.MethodPost, "/workflows/:uuid/run", ctx, HandleRunWorkflow)

	status, body := doRequest(t, app, fiber.MethodPost, "/workflows/wf-4/run")
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "subscription_required", body["code"])
}
