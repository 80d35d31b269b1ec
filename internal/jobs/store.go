package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/kvstore"
)

const keyPrefix = "job:"

func jobKey(id string) string {
	return keyPrefix + id
}

// saveJob replaces the whole record. The TTL is what remains until the
// expiry fixed at creation.
func saveJob(ctx context.Context, store kvstore.Store, job domain.Job, now time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	if err := store.Set(ctx, jobKey(job.ID), data, job.ExpiresAt.Sub(now)); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

func loadJob(ctx context.Context, store kvstore.Store, id string) (domain.Job, error) {
	data, err := store.Get(ctx, jobKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}
