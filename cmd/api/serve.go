package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/retina-inspector-go/internal/config"
	"github.com/anime-shed/retina-inspector-go/internal/container"
	"github.com/anime-shed/retina-inspector-go/internal/logger"
	"github.com/anime-shed/retina-inspector-go/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}

		closer := logger.Configure(logger.Options{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		})
		defer closer.Close()

		ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer done()
		g, gCtx := errgroup.WithContext(ctx)

		// Initialize dependency injection container
		c, err := container.NewContainer(gCtx, cfg)
		if err != nil {
			return err
		}
		defer c.Close()

		server := &http.Server{
			Addr:              cfg.ServerAddress(),
			Handler:           c.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.RequestTimeout,
			// analyses with ?wait=true run up to the analysis timeout
			WriteTimeout: cfg.AnalysisTimeout + cfg.RequestTimeout,
		}

		g.Go(func() error {
			defer logger.Info("Exiting stream hub")
			return c.Hub().Run(gCtx)
		})

		g.Go(func() error {
			defer logger.Info("Exiting session janitor")
			return service.RunJanitor(gCtx, c.Service(), sweepInterval)
		})

		g.Go(func() error {
			logger.WithFields(logrus.Fields{
				"address":       cfg.ServerAddress(),
				"backend":       cfg.BackendURL,
				"session_store": cfg.SessionStore,
				"timeout":       cfg.RequestTimeout,
			}).Info("Starting HTTP server")

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		// ...and shut the server down once a signal arrives or a goroutine fails
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})

		if err := g.Wait(); err != nil {
			logger.WithError(err).Error("Server stopped with error")
			return err
		}
		logger.Info("Server exited")
		return nil
	},
}
