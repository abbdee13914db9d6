package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rossigee/cloudsize/internal/papi"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

// ErrNoEngineJob is returned for a job id missing from the engine job mapping
var ErrNoEngineJob = errors.New("no engine job id for cloud job")

// Summary counts the work done by a sync run
type Summary struct {
	Jobs         int
	Completed    int
	Failed       int
	Pages        int
	Files        int64
	Inserted     int64
	Bytes        int64
	StatFailures int64
}

func (s *Summary) add(o *Summary) {
	s.Pages += o.Pages
	s.Files += o.Files
	s.Inserted += o.Inserted
	s.Bytes += o.Bytes
	s.StatFailures += o.StatFailures
}

// SyncFiles drains the file listing of each job into the store and marks the
// job complete once the listing is exhausted. A failing job is left in
// Processing and the remaining jobs are still attempted.
func (m *Manager) SyncFiles(ctx context.Context, jobIDs []string, engineIDs map[string]string) (*Summary, error) {
	summary := &Summary{Jobs: len(jobIDs)}
	var errs []error

	for _, id := range jobIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("sync interrupted before job %s: %w", id, err))
			break
		}

		log := m.log.WithField("job_id", id)

		engineID, ok := engineIDs[id]
		if !ok {
			m.metrics.JobsFailed.Inc()
			summary.Failed++
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoEngineJob, id))
			continue
		}

		log = log.WithField("engine_job_id", engineID)
		log.Info("Processing files for cloud job")

		result, err := m.syncJob(ctx, id, engineID, log)
		summary.add(result)
		if err != nil {
			m.metrics.JobsFailed.Inc()
			summary.Failed++
			log.WithError(err).Error("Cloud job file sync aborted, will resume on next run")
			errs = append(errs, fmt.Errorf("job %s: %w", id, err))
			continue
		}

		m.metrics.JobsCompleted.Inc()
		summary.Completed++
		log.WithFields(logrus.Fields{
			"pages":         result.Pages,
			"files":         result.Files,
			"inserted":      result.Inserted,
			"size":          humanize.IBytes(uint64(result.Bytes)),
			"stat_failures": result.StatFailures,
		}).Info("Cloud job file sync complete")
	}

	return summary, errors.Join(errs...)
}

func (m *Manager) syncJob(ctx context.Context, jobID, engineID string, log *logrus.Entry) (*Summary, error) {
	result := &Summary{}

	for page := 0; ; page++ {
		listing, err := m.api.ListJobFiles(ctx, jobID, page, m.pageSize)
		if err != nil {
			return result, err
		}
		m.metrics.PagesFetched.Inc()
		result.Pages++

		records := make([]types.FileRecord, 0, len(listing.Files))
		for _, entry := range listing.Files {
			record, size, ok := m.recordFor(jobID, engineID, page, entry, log)
			if ok {
				result.Bytes += size
			} else {
				result.StatFailures++
				m.metrics.StatFailures.Inc()
			}
			records = append(records, record)
		}

		inserted, err := m.store.InsertFiles(ctx, records)
		if err != nil {
			return result, fmt.Errorf("failed to store page %d: %w", page, err)
		}

		result.Files += int64(len(records))
		result.Inserted += inserted
		m.metrics.FilesRecorded.Add(float64(len(records)))
		m.metrics.FilesInserted.Add(float64(inserted))

		log.WithFields(logrus.Fields{
			"offset":   page,
			"files":    len(records),
			"inserted": inserted,
		}).Debug("Stored file listing page")

		if listing.Last() {
			break
		}
	}

	if err := m.store.SetJobState(ctx, jobID, types.StateComplete); err != nil {
		return result, fmt.Errorf("failed to mark job complete: %w", err)
	}

	return result, nil
}

// recordFor builds the stored record of one listed file. The size comes from a
// fresh local stat; ok is false when the stat or name encoding failed.
// Files the API reports as missing are recorded without a size but are not failures.
func (m *Manager) recordFor(jobID, engineID string, page int, entry papi.FileEntry, log *logrus.Entry) (types.FileRecord, int64, bool) {
	record := types.FileRecord{
		ID:          jobID + entry.ID.String(),
		Name:        strings.ToValidUTF8(entry.Name, "\uFFFD"),
		State:       entry.State,
		Size:        types.SizeUnavailable,
		Offset:      page,
		JobID:       jobID,
		EngineJobID: engineID,
	}

	size, err := m.localSize(entry.Name)
	if errors.Is(err, errMissingFile) {
		return record, 0, true
	}
	if err != nil {
		log.WithError(err).WithField("file", entry.Name).Debug("Could not determine local file size")
		return record, 0, false
	}

	record.Size = strconv.FormatInt(size, 10)
	return record, size, true
}

var errMissingFile = errors.New("file reported missing by the management API")

func (m *Manager) localSize(name string) (int64, error) {
	if name == types.MissingFileName {
		return 0, errMissingFile
	}

	path, err := m.encoder.String(name)
	if err != nil {
		return 0, fmt.Errorf("file name not representable in filename encoding: %w", err)
	}

	info, err := m.stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
