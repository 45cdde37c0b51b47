package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/folio/audit"
	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/objstore"
	"github.com/hazyhaar/folio/purge"
	"github.com/hazyhaar/folio/shield"
	"github.com/hazyhaar/folio/uploads"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	objects, err := objstore.Open(cfg.Storage)
	if err != nil {
		return err
	}
	if s3, ok := objects.(*objstore.S3); ok {
		if err := s3.Ping(ctx); err != nil {
			return err
		}
	}

	store, err := uploads.OpenStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	orphans := purge.New(store.DB(), purge.Options{
		PollInterval: cfg.Purge.PollInterval,
		MaxAttempts:  cfg.Purge.MaxAttempts,
	})
	if err := orphans.EnsureTable(ctx); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	go orphans.Run(ctx, objects)

	if _, err := store.DB().ExecContext(ctx, audit.Schema); err != nil {
		return fmt.Errorf("audit schema: %w", err)
	}
	trail := audit.New(store.DB(), 1000)
	defer trail.Close()

	extractor := manuscript.New(objects, cfg.Manuscript())
	svc := uploads.NewService(store, extractor, objects,
		uploads.WithPurgeQueue(orphans),
		uploads.WithAudit(trail),
	)

	limiter := shield.NewRateLimiter(cfg.RateLimit)
	go sweepLoop(ctx, limiter)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(limiter) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	uploads.NewHandler(svc, cfg.MaxFileBytes()).Routes(r)

	if dir, ok := objects.(*objstore.Dir); ok {
		prefix, err := servePrefix(cfg.Storage.PublicURL)
		if err != nil {
			return err
		}
		r.Handle(prefix+"/*", http.StripPrefix(prefix, dir.Handler()))
		slog.Info("serving stored images", "prefix", prefix, "dir", cfg.Storage.Dir)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "storage", cfg.Storage.Driver, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// servePrefix returns the URL path stored images are served under.
func servePrefix(publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("storage.public_url: %w", err)
	}
	prefix := strings.TrimRight(u.Path, "/")
	if prefix == "" {
		return "", fmt.Errorf("storage.public_url needs a path for the dir driver, e.g. http://host/files")
	}
	return prefix, nil
}

func sweepLoop(ctx context.Context, rl *shield.RateLimiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Sweep(10 * time.Minute)
		}
	}
}
