package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/synthhq/synth/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	TouchAPIKeyUsage(userID uint, at time.Time) error
}

// WorkflowRepository defines the interface for workflow-related database operations
type WorkflowRepository interface {
	Create(workflow *models.Workflow) error
	GetByID(id uint) (*models.Workflow, error)
	GetByUUID(uuid string) (*models.Workflow, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Workflow, error)
	Update(workflow *models.Workflow) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
	CountActiveByUserID(userID uint) (int64, error)

	CreateExecution(execution *models.WorkflowExecution) error
	FinishExecution(executionID uint, status string, at time.Time) error
	GetExecutionsByWorkflow(workflowID uint, offset, limit int) ([]models.WorkflowExecution, error)
	CountExecutionsByUserSince(userID uint, since time.Time) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	Workflow WorkflowRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Workflow: NewWorkflowRepository(db),
	}
}
