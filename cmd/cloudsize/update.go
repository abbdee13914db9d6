package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rossigee/cloudsize/internal/auth"
	"github.com/rossigee/cloudsize/internal/config"
	"github.com/rossigee/cloudsize/internal/credentials"
	"github.com/rossigee/cloudsize/internal/jobs"
	"github.com/rossigee/cloudsize/internal/metrics"
	"github.com/rossigee/cloudsize/internal/minio"
	"github.com/rossigee/cloudsize/internal/papi"
	"github.com/rossigee/cloudsize/internal/report"
	"github.com/rossigee/cloudsize/internal/storage"
	"github.com/sirupsen/logrus"
)

// promptCredentials asks on the terminal; replaced in tests
var promptCredentials = func() (papi.Credentials, error) {
	return credentials.NewPrompter().Prompt()
}

// apiCredentials prefers the environment and prompts only when either value is missing
func apiCredentials(cfg *config.Config) (papi.Credentials, error) {
	if cfg.HasCredentials() {
		return papi.Credentials{Username: cfg.PAPIUser, Password: cfg.PAPIPassword}, nil
	}
	return promptCredentials()
}

func runUpdate(ctx context.Context, cfg *config.Config) error {
	runID := uuid.New().String()
	log := logrus.WithField("run_id", runID)

	// Fail on a bad snapshot target before spending hours on the sync
	var uploader *minio.Client
	if cfg.SnapshotURL != "" {
		var err error
		if uploader, err = minio.NewClient(cfg.SnapshotURL); err != nil {
			return fmt.Errorf("failed to initialize snapshot upload: %w", err)
		}
	}

	creds, err := apiCredentials(cfg)
	if err != nil {
		return err
	}

	tlsConfig, err := auth.ClientTLSConfig(cfg.PAPICACert)
	if err != nil {
		return fmt.Errorf("failed to load management API CA: %w", err)
	}

	m := metrics.New()

	client, err := papi.NewClient(papi.Config{
		BaseURL:     cfg.PAPIBaseURL(),
		Credentials: creds,
		Timeout:     cfg.PAPITimeout,
		Retry:       cfg.Retry,
		TLS:         tlsConfig,
		OnRetry:     m.APIRetries.Inc,
	})
	if err != nil {
		return err
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Failed to close database")
		}
	}()

	manager, err := jobs.NewManager(client, store, jobs.Options{
		PageSize:         cfg.PageSize,
		FilenameEncoding: cfg.FilenameEncoding,
		Metrics:          m,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"api":     client.String(),
		"db_path": store.Path(),
	}).Info("Starting update run")

	started := time.Now()
	summary, runErr := manager.Update(ctx)
	m.LastRun.SetToCurrentTime()

	if summary != nil {
		log.WithFields(logrus.Fields{
			"jobs":          summary.Jobs,
			"completed":     summary.Completed,
			"failed":        summary.Failed,
			"pages":         summary.Pages,
			"files":         summary.Files,
			"inserted":      summary.Inserted,
			"size":          humanize.IBytes(uint64(summary.Bytes)),
			"stat_failures": summary.StatFailures,
			"duration":      time.Since(started).Round(time.Second).String(),
		}).Info("Update run finished")
	}

	if cfg.MetricsFile != "" {
		if err := m.RegisterJobStates(store); err != nil {
			log.WithError(err).Warn("Failed to register job state metrics")
		}
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			log.WithError(err).Warn("Failed to write metrics")
		}
	}

	if uploader != nil {
		if _, err := uploader.UploadSnapshot(ctx, store, runID); err != nil {
			log.WithError(err).Warn("Failed to upload store snapshot")
		}
	}

	return runErr
}

func runSearch(ctx context.Context, out io.Writer, cfg *config.Config, pattern string) error {
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database")
		}
	}()

	resp, err := report.NewSizer(store).SizeForPattern(ctx, pattern)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, report.Line(resp))
	return err
}
