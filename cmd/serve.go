package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/civisearch/civisearch/pkg/api"
	"github.com/civisearch/civisearch/pkg/cache"
	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/log"
	"github.com/civisearch/civisearch/pkg/realtime"
	"github.com/civisearch/civisearch/pkg/search"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the search API server",
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, c.String("config"))
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	logger := log.ForService("serve")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warnf("closing: %v", err)
		}
	}()

	hub := realtime.NewFirehoseHub(64)
	app.Service = newService(app, cfg, hub)

	server := api.NewServer(app.Service, app.Tracker, app.CacheStore, hub)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.CorsMiddleware(api.RequestIDMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Expired cache rows are invisible to readers; the reaper just keeps the
	// table from growing without bound.
	reaper := cache.NewReaper(app.CacheStore, cfg.Cache.ReaperInterval.Duration)
	go reaper.Run(serveCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("failed to create config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("failed to close config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("failed to watch config file %s: %v", configPath, err)
		} else {
			logger.Infof("watching config file for changes: %s", configPath)
		}
	}

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if watcher != nil {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("received SIGHUP, reloading configuration")
				if err := reloadConfiguration(configPath, app); err != nil {
					logger.Errorf("reload failed: %v", err)
				} else {
					logger.Infof("configuration reloaded")
				}
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Infof("shutting down")
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpServer.Shutdown(shutdownCtx)
			}

		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			// Editors often replace the file atomically, so rename and remove
			// count as changes too.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					time.Sleep(200 * time.Millisecond)
					if _, err := os.Stat(configPath); os.IsNotExist(err) {
						logger.Warnf("config file removed and not replaced, skipping reload")
						continue
					}
					if err := watcher.Add(configPath); err != nil {
						logger.Warnf("failed to re-watch config file: %v", err)
					}
				} else {
					time.Sleep(100 * time.Millisecond)
				}

				logger.Infof("config file changed (%s), reloading", event.Op)
				if err := reloadConfiguration(configPath, app); err != nil {
					logger.Errorf("reload failed: %v", err)
				} else {
					logger.Infof("configuration reloaded")
				}
			}

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			logger.Warnf("config file watcher error: %v", err)
		}
	}
}

// reloadConfiguration re-reads the config file and swaps the hot-swappable
// pieces: the synonym table and the TTL tiers. Database path and listen
// address changes require a restart.
func reloadConfiguration(configPath string, app *App) error {
	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading new config: %w", err)
	}

	normalizer := newNormalizer(newCfg)
	policy, err := cache.NewPolicy(newCfg.Cache.Tiers)
	if err != nil {
		return fmt.Errorf("building ttl policy: %w", err)
	}

	app.Service.Reload(normalizer, policy)
	return nil
}

func newService(app *App, cfg *config.Config, hub *realtime.FirehoseHub) *search.Service {
	return search.NewService(search.ServiceOptions{
		Normalizer:      newNormalizer(cfg),
		Tracker:         app.Tracker,
		Policy:          app.Policy,
		Cache:           app.Cache,
		Engine:          app.Engine,
		Codec:           app.Codec,
		Hub:             hub,
		DefaultPageSize: cfg.Search.DefaultPageSize,
		MaxPageSize:     cfg.Search.MaxPageSize,
	})
}
