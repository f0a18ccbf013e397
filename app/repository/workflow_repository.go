package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
)

// workflowRepository implements the WorkflowRepository interface
type workflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a new workflow repository instance
func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

// Create creates a new workflow in the database
func (r *workflowRepository) Create(workflow *models.Workflow) error {
	return r.db.Create(workflow).Error
}

// GetByID retrieves a workflow by its ID
func (r *workflowRepository) GetByID(id uint) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.db.First(&workflow, id).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// GetByUUID retrieves a workflow by its UUID
func (r *workflowRepository) GetByUUID(uuid string) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.db.Where("uuid = ?", uuid).First(&workflow).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

// GetByUserID retrieves a paginated list of a user's workflows
func (r *workflowRepository) GetByUserID(userID uint, offset, limit int) ([]models.Workflow, error) {
	var workflows []models.Workflow
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&workflows).Error
	return workflows, err
}

// Update updates an existing workflow in the database
func (r *workflowRepository) Update(workflow *models.Workflow) error {
	return r.db.Save(workflow).Error
}

// Delete soft deletes a workflow by its ID
func (r *workflowRepository) Delete(id uint) error {
	return r.db.Delete(&models.Workflow{}, id).Error
}

// CountByUserID returns the total number of workflows for a user
func (r *workflowRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Workflow{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// CountActiveByUserID returns how many workflows currently count against the
// active-workflow limit
func (r *workflowRepository) CountActiveByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Workflow{}).
		Where("user_id = ? AND status = ?", userID, models.WorkflowStatusActive).
		Count(&count).Error
	return count, err
}

// CreateExecution records the start of a workflow run. The workflow's
// execution_count column is maintained by the usage flush worker, not here.
func (r *workflowRepository) CreateExecution(execution *models.WorkflowExecution) error {
	return r.db.Create(execution).Error
}

// FinishExecution marks a run as finished with its terminal status
func (r *workflowRepository) FinishExecution(executionID uint, status string, at time.Time) error {
	return r.db.Model(&models.WorkflowExecution{}).Where("id = ?", executionID).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": &at,
		}).Error
}

// GetExecutionsByWorkflow retrieves a paginated execution history, newest first
func (r *workflowRepository) GetExecutionsByWorkflow(workflowID uint, offset, limit int) ([]models.WorkflowExecution, error) {
	var executions []models.WorkflowExecution
	err := r.db.Where("workflow_id = ?", workflowID).
		Order("started_at DESC").Offset(offset).Limit(limit).
		Find(&executions).Error
	return executions, err
}

// CountExecutionsByUserSince counts runs started at or after the given instant
func (r *workflowRepository) CountExecutionsByUserSince(userID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.WorkflowExecution{}).
		Where("user_id = ? AND started_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}
