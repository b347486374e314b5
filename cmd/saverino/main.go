package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saverino/internal/api"
	"saverino/internal/config"
	"saverino/internal/database"
	"saverino/internal/discord"
	"saverino/internal/downloader"
	"saverino/internal/logging"
	"saverino/internal/media"
	"saverino/internal/mpv"
	"saverino/internal/player"
	"saverino/internal/search"
	"saverino/internal/tui"

	"github.com/sirupsen/logrus"
)

// finished save jobs are forgotten after this long
const jobRetention = 7 * 24 * time.Hour

func main() {
	configPath := "./config.toml"
	if p := os.Getenv("SAVERINO_CONFIG"); p != "" {
		configPath = p
	}

	// Initialize basic logger for startup
	bootLogger := logrus.New()
	bootLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		bootLogger.WithError(err).Fatal("Error loading configuration")
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		bootLogger.WithError(err).Fatal("Error initializing logging")
	}

	err = run(configPath, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Exiting with error")
	}
	logCloser.Close()
	if err != nil {
		bootLogger.WithError(err).Fatal("saverino stopped")
	}
}

func run(configPath string, cfg *config.Config, logger *logrus.Logger) error {
	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	client := api.New(api.Config{
		SearchURL:  cfg.API.SearchURL,
		ResolveURL: cfg.API.ResolveURL,
		Quality:    cfg.API.StreamQuality,
		CacheTTL:   cfg.CacheTTL(),
		Timeout:    cfg.Timeout(),
	}, api.WithLogger(logger))

	mp, err := mpv.Start(mpv.Options{
		Path:        cfg.MPV.Path,
		AudioDevice: cfg.MPV.AudioDevice,
		SocketDir:   cfg.MPV.SocketDir,
	}, logger)
	if err != nil {
		return err
	}
	defer mp.Close()

	playerCtrl := player.NewController(mp, client, player.WithLogger(logger))
	if err := playerCtrl.SetVolume(cfg.Player.Volume); err != nil {
		logger.WithError(err).Warn("Failed to apply initial volume")
	}
	defer playerCtrl.Stop()

	searchCtrl := search.NewController(client, db, search.Options{
		Debounce:      cfg.DebounceDelay(),
		HistorySize:   cfg.Search.HistorySize,
		FeaturedTerms: cfg.Search.FeaturedTerms,
		Logger:        logger,
	})
	defer searchCtrl.Close()

	var saver tui.Saver
	if cfg.Downloader.Enabled {
		dl, err := downloader.NewDownloader(downloader.Config{
			LibraryPath:   cfg.Downloader.LibraryPath,
			MaxConcurrent: cfg.Downloader.MaxConcurrent,
		}, client, db, downloader.WithLogger(logger))
		if err != nil {
			logger.WithError(err).Warn("Saving tracks disabled")
		} else {
			defer dl.Close()
			dl.CleanupCompletedJobs(jobRetention)
			saver = dl
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go dispatchEvents(ctx, mp.Events(), playerCtrl, logger)

	if cfg.Discord.Enabled {
		rpc := discord.NewRPCService(cfg.Discord, discord.WithLogger(logger))
		rpcDone := make(chan struct{})
		go func() {
			defer close(rpcDone)
			rpc.Run(ctx, playerCtrl)
		}()
		defer func() {
			cancel()
			<-rpcDone
		}()
	}

	watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
		if err := logging.Apply(logger, next.Logging); err != nil {
			logger.WithError(err).Warn("Ignoring logging change")
		}
		client.SetQuality(next.API.StreamQuality)
		logger.WithField("quality", client.Quality()).Info("Configuration reloaded")
	})
	if err != nil {
		logger.WithError(err).Warn("Config hot reload disabled")
	} else {
		defer watcher.Close()
	}

	searchCtrl.Start()

	logger.Info("Starting saverino")
	ui := tui.New(playerCtrl, searchCtrl, saver, logger)
	if err := ui.Run(ctx); err != nil {
		return err
	}

	logger.Info("Shutting down")
	return nil
}

// dispatchEvents feeds backend notifications to the controller one at a time
func dispatchEvents(ctx context.Context, events <-chan media.Event, pc *player.Controller, logger logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := pc.HandleEvent(ctx, ev); err != nil && !errors.Is(err, player.ErrSuperseded) {
				logger.WithError(err).WithField("event", ev.Kind.String()).Warn("Failed to handle media event")
			}
		}
	}
}
