package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rossigee/cloudsize/internal/papi"
	"github.com/rossigee/cloudsize/internal/storage"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

// DiscoverJobs lists the cloud jobs and returns the ids of completed jobs whose
// files are not fully mirrored yet, plus the engine job id of each of them.
// Jobs in any state other than completed are left for a later run.
func (m *Manager) DiscoverJobs(ctx context.Context) ([]string, map[string]string, error) {
	summaries, err := m.api.ListJobs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover cloud jobs: %w", err)
	}

	pending := []string{}
	engineIDs := make(map[string]string)

	for _, job := range summaries {
		if job.EffectiveState != papi.JobStateCompleted {
			continue
		}

		id := job.ID.String()
		if _, seen := engineIDs[id]; seen {
			continue
		}

		log := m.log.WithFields(logrus.Fields{
			"job_id":        id,
			"engine_job_id": job.JobEngineJob.ID.String(),
		})

		complete, record, err := m.completion(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		if complete {
			// Pages drained by an interrupted run that never recorded completion
			if record.State != types.StateComplete {
				if err := m.store.SetJobState(ctx, id, types.StateComplete); err != nil {
					return nil, nil, fmt.Errorf("failed to mark job %s complete: %w", id, err)
				}
				log.Info("Cloud job already fully mirrored, marked complete")
			}
			continue
		}

		if err := m.store.EnsureJob(ctx, id, types.StateProcessing); err != nil {
			return nil, nil, fmt.Errorf("failed to record job %s: %w", id, err)
		}

		log.Debug("Cloud job needs file sync")
		pending = append(pending, id)
		engineIDs[id] = job.JobEngineJob.ID.String()
	}

	return pending, engineIDs, nil
}

// IsComplete reports whether every file of a job is already recorded locally.
// A job never seen before is not complete.
func (m *Manager) IsComplete(ctx context.Context, jobID string) (bool, error) {
	complete, _, err := m.completion(ctx, jobID)
	return complete, err
}

func (m *Manager) completion(ctx context.Context, jobID string) (bool, *types.JobRecord, error) {
	record, err := m.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to look up job %s: %w", jobID, err)
	}

	detail, err := m.api.GetJob(ctx, jobID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get file total for job %s: %w", jobID, err)
	}

	stored, err := m.store.CountFiles(ctx, jobID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to count stored files for job %s: %w", jobID, err)
	}

	// The same file can be listed at more than one offset, so rows may exceed the total
	return stored >= detail.Files.Total, record, nil
}
