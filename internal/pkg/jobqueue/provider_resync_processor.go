package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/synthhq/synth/internal/pkg/billing"
	"github.com/synthhq/synth/internal/pkg/cache"
	"github.com/synthhq/synth/internal/pkg/database"
)

// processProviderResyncJob re-pulls a user's subscription state from the
// billing provider and drops the cached billing overview afterwards.
func (q *Queue) processProviderResyncJob(ctx context.Context, job *Job) error {
	payload, err := ProviderResyncJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid provider resync payload: %w", err)
	}
	if payload.UserID == 0 {
		return fmt.Errorf("provider resync payload missing user id")
	}

	resyncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB(), nil)
	provider := billing.NewProviderFromEnv()
	if err := svc.ResyncFromProvider(resyncCtx, payload.UserID, provider, time.Now()); err != nil {
		return fmt.Errorf("resync user %d: %w", payload.UserID, err)
	}

	_ = cache.Delete(billing.StateCacheKey(payload.UserID))
	return nil
}
