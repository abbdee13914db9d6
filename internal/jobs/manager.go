// Package jobs mirrors cloud job file listings from the management API into
// the local store. A job needs work while it has fewer stored rows than the
// remote file total.
package jobs

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/rossigee/cloudsize/internal/metrics"
	"github.com/rossigee/cloudsize/internal/papi"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	// DefaultPageSize is the number of file records requested per listing page
	DefaultPageSize = 100000
	// DefaultFilenameEncoding is the charset of file names on the cluster filesystem
	DefaultFilenameEncoding = "iso-8859-15"
)

// API is the management API surface used by the sync engine
type API interface {
	ListJobs(ctx context.Context) ([]papi.JobSummary, error)
	GetJob(ctx context.Context, jobID string) (*papi.JobDetail, error)
	ListJobFiles(ctx context.Context, jobID string, page, pageSize int) (*papi.FilePage, error)
}

// Store is the persistence surface used by the sync engine
type Store interface {
	GetJob(ctx context.Context, id string) (*types.JobRecord, error)
	EnsureJob(ctx context.Context, id string, state types.JobState) error
	SetJobState(ctx context.Context, id string, state types.JobState) error
	CountFiles(ctx context.Context, jobID string) (int64, error)
	InsertFiles(ctx context.Context, records []types.FileRecord) (int64, error)
}

// StatFunc returns file information for a local path
type StatFunc func(name string) (fs.FileInfo, error)

// Options tunes a Manager
type Options struct {
	PageSize int
	// FilenameEncoding names the charset file names are encoded to before stat
	FilenameEncoding string
	Metrics          *metrics.Metrics
	Stat             StatFunc
	Logger           *logrus.Entry
}

// Manager runs discovery and file sync against one store
type Manager struct {
	api      API
	store    Store
	metrics  *metrics.Metrics
	pageSize int
	stat     StatFunc
	encoder  *encoding.Encoder
	log      *logrus.Entry
}

// NewManager creates a new sync manager
func NewManager(api API, store Store, opts Options) (*Manager, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.FilenameEncoding == "" {
		opts.FilenameEncoding = DefaultFilenameEncoding
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	enc, err := htmlindex.Get(opts.FilenameEncoding)
	if err != nil {
		return nil, fmt.Errorf("unsupported filename encoding '%s': %w", opts.FilenameEncoding, err)
	}

	return &Manager{
		api:      api,
		store:    store,
		metrics:  opts.Metrics,
		pageSize: opts.PageSize,
		stat:     opts.Stat,
		encoder:  enc.NewEncoder(),
		log:      opts.Logger,
	}, nil
}

// Update discovers completed cloud jobs and syncs the files of those not yet mirrored.
// A discovery failure aborts the run; a failed job is skipped and reported in the returned error.
func (m *Manager) Update(ctx context.Context) (*Summary, error) {
	pending, engineIDs, err := m.DiscoverJobs(ctx)
	if err != nil {
		return nil, err
	}

	m.log.WithField("jobs", len(pending)).Info("Cloud jobs pending file sync")

	return m.SyncFiles(ctx, pending, engineIDs)
}
