package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synthhq/synth/app/models"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	GetOrCreateSubscription(userID uint) (*models.Subscription, error)
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByProviderSubscriptionID(provider, providerSubID string) (*models.Subscription, error)
	GetSubscriptionByProviderCustomerID(provider, customerID string) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	// CompareAndSetPlanChange atomically writes pending_plan, billing_period
	// and last_plan_change_at, guarded on the previously observed
	// last_plan_change_at. Returns false when a concurrent request won.
	CompareAndSetPlanChange(userID uint, expected *time.Time, pendingPlan, billingPeriod string, now time.Time) (bool, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	CountActiveWorkflows(userID uint) (int64, error)
	CountExecutionsSince(userID uint, since time.Time) (int64, error)

	// WithTx runs fn against a transactional repository so multi-field
	// webhook effects commit atomically.
	WithTx(fn func(Repository) error) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreateSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	sub = models.Subscription{UserID: userID, Plan: "free"}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&sub).Error; err != nil {
		return nil, err
	}
	// Re-read to cover the conflict path.
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderSubscriptionID(provider, providerSubID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider_subscription_id = ?", providerSubID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByProviderCustomerID(provider, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider_customer_id = ?", customerID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) CompareAndSetPlanChange(userID uint, expected *time.Time, pendingPlan, billingPeriod string, now time.Time) (bool, error) {
	q := r.db.Model(&models.Subscription{}).Where("user_id = ?", userID)
	if expected == nil {
		q = q.Where("last_plan_change_at IS NULL")
	} else {
		q = q.Where("last_plan_change_at = ?", *expected)
	}
	updates := map[string]interface{}{
		"pending_plan":        pendingPlan,
		"last_plan_change_at": now,
	}
	if billingPeriod != "" {
		updates["billing_period"] = billingPeriod
	}
	tx := q.Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) CountActiveWorkflows(userID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.Workflow{}).
		Where("user_id = ? AND status = ?", userID, models.WorkflowStatusActive).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) CountExecutionsSince(userID uint, since time.Time) (int64, error) {
	var n int64
	err := r.db.Model(&models.WorkflowExecution{}).
		Where("user_id = ? AND started_at >= ?", userID, since).
		Count(&n).Error
	return n, err
}

func (r *gormRepository) WithTx(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
