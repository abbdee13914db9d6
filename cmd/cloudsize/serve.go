package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rossigee/cloudsize/internal/api"
	"github.com/rossigee/cloudsize/internal/auth"
	"github.com/rossigee/cloudsize/internal/config"
	"github.com/rossigee/cloudsize/internal/metrics"
	"github.com/rossigee/cloudsize/internal/report"
	"github.com/rossigee/cloudsize/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve size and job reports over HTTP",
		Long: `Serve exposes the local database read-only: total sizes by path substring,
the mirrored jobs and their state, and store metrics. Set TLS_CERT_FILE and
TLS_KEY_FILE to serve over TLS; client certificates are then checked against
CLIENT_CA_CERT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close database")
		}
	}()

	authValidator, err := auth.NewValidator()
	if err != nil {
		return err
	}

	m := metrics.New()
	if err := m.RegisterJobStates(store); err != nil {
		return err
	}

	handler := api.NewHandler(
		report.NewSizer(store),
		store,
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	api.SetupRoutes(router, handler, authValidator.Middleware())

	certFile := os.Getenv("TLS_CERT_FILE")
	keyFile := os.Getenv("TLS_KEY_FILE")

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		TLSConfig:         authValidator.ServerTLSConfig(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Size queries scan the files table
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log := logrus.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"db_path": store.Path(),
			"tls":     certFile != "",
		})
		if certFile != "" && keyFile != "" {
			log.Info("Starting cloudsize report server")
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
			return
		}
		if authValidator.IsClientCALoaded() {
			log.Warn("Client CA loaded but TLS_CERT_FILE/TLS_KEY_FILE not set, client certificates cannot be checked")
		}
		log.Info("Starting cloudsize report server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logrus.Info("Server exited")
	return nil
}
