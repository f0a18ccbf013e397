package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBillingEmail   JobType = "billing_email"
	JobTypeProviderResync JobType = "provider_resync"
)

// Billing email kinds understood by the billing email processor.
const (
	BillingEmailPaymentFailed = "payment_failed"
	BillingEmailPlanActivated = "plan_activated"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// BillingEmailJobPayload contains the payload for billing notification emails
type BillingEmailJobPayload struct {
	UserID uint   `json:"user_id"`
	Kind   string `json:"kind"`
	Plan   string `json:"plan,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p BillingEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"kind":    p.Kind,
		"plan":    p.Plan,
	}
}

// BillingEmailJobPayloadFromMap creates a payload from a map
func BillingEmailJobPayloadFromMap(data map[string]interface{}) (*BillingEmailJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload BillingEmailJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ProviderResyncJobPayload contains the payload for provider resync jobs
type ProviderResyncJobPayload struct {
	UserID uint   `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

// ToMap converts the payload to a map for storage
func (p ProviderResyncJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"reason":  p.Reason,
	}
}

// ProviderResyncJobPayloadFromMap creates a payload from a map
func ProviderResyncJobPayloadFromMap(data map[string]interface{}) (*ProviderResyncJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ProviderResyncJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
