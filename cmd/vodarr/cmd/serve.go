package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vodarr/internal/artwork"
	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/database"
	"github.com/jmylchreest/vodarr/internal/database/migrations"
	"github.com/jmylchreest/vodarr/internal/eventsub"
	internalhttp "github.com/jmylchreest/vodarr/internal/http"
	"github.com/jmylchreest/vodarr/internal/http/handlers"
	"github.com/jmylchreest/vodarr/internal/httpclient"
	"github.com/jmylchreest/vodarr/internal/layout"
	"github.com/jmylchreest/vodarr/internal/media"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/pipeline"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/recorder"
	"github.com/jmylchreest/vodarr/internal/recovery"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/resolver"
	"github.com/jmylchreest/vodarr/internal/service"
	"github.com/jmylchreest/vodarr/internal/status"
	"github.com/jmylchreest/vodarr/internal/supervisor"
	"github.com/jmylchreest/vodarr/internal/twitch"
	"github.com/jmylchreest/vodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr server",
	Long: `Start the vodarr recording daemon and HTTP API.

The server provides:
- EventSub webhook intake for go-live notifications
- REST API for managing streamers, recordings, and the task queue
- WebSocket status feed at /ws
- OpenAPI documentation at /docs

Startup runs crash recovery before EventSub intake opens: interrupted
captures are salvaged or discarded, stuck queue tasks are requeued, and
EventSub subscriptions are verified against the Twitch API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8472, "Port to listen on")
	serveCmd.Flags().String("database", "", "Database DSN (e.g. vodarr.db for sqlite)")
	serveCmd.Flags().String("recordings-dir", "", "Root directory for the recording layout")
	serveCmd.Flags().String("public-url", "", "Externally reachable base URL for the EventSub callback")
}

// applyServeFlags overlays explicitly set CLI flags on the loaded config.
// Only Changed() flags win so env and file values survive flag defaults.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("database") {
		cfg.Database.DSN, _ = flags.GetString("database")
	}
	if flags.Changed("recordings-dir") {
		cfg.Storage.RecordingsDir, _ = flags.GetString("recordings-dir")
	}
	if flags.Changed("public-url") {
		cfg.Server.PublicURL, _ = flags.GetString("public-url")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.Default()

	if cfg.Server.CallbackURL() == "" {
		logger.Warn("server.public_url is not set; EventSub subscriptions cannot be created",
			slog.String("hint", "set VODARR_SERVER_PUBLIC_URL to the externally reachable base URL"))
	}

	// Database and migrations
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Init(context.Background()); err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories
	streamerRepo := repository.NewStreamerRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	eventRepo := repository.NewStreamEventRepository(db.DB)
	recordingRepo := repository.NewRecordingRepository(db.DB)
	processingRepo := repository.NewProcessingRepository(db.DB)
	metadataRepo := repository.NewMetadataRepository(db.DB)
	settingsRepo := repository.NewSettingsRepository(db.DB)
	taskRepo := repository.NewTaskRepository(db.DB)

	// Core collaborators
	sup := supervisor.New(logger)
	tw := twitch.NewClient(cfg.Twitch, logger)
	res := resolver.New(cfg.Recording, streamerRepo, settingsRepo, logger)
	lay := layout.New(cfg.Storage.RecordingsDir, cfg.Storage.LogsDir)
	hub := status.NewHub(cfg.Status, logger)

	// Recording audit trail, separate from the process log
	activity, err := observability.OpenActivityLog(cfg.Storage.AppLogDir())
	if err != nil {
		logger.Warn("activity log unavailable", slog.String("error", err.Error()))
	}
	defer activity.Close()

	// Queue: executor, runner, scheduler
	executor := queue.NewExecutor(taskRepo, cfg.Queue.KindLimits, logger).
		WithBroadcaster(hub)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "vodarr"
	}
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	runner := queue.NewRunner(cfg.Queue, taskRepo, executor, workerID, logger)
	scheduler := queue.NewScheduler(taskRepo, runner, logger)

	// Artwork fetcher (posters, banners, live previews)
	fetcher := artwork.NewFetcher(tw, httpclient.NewWithDefaults(), lay, streamerRepo, logger)
	fetcher.Register(executor)

	// Post-processing pipeline. The rescan channel lets cleanup nudge the
	// recovery coordinator into another orphan sweep.
	rescan := make(chan struct{}, 1)
	pipe := pipeline.New(pipeline.Deps{
		Config:     cfg,
		Layout:     lay,
		Procs:      sup,
		Prober:     media.NewProber(cfg.Tools.FFprobePath),
		Notifier:   hub,
		Resolver:   res,
		Previews:   fetcher,
		Recordings: recordingRepo,
		Streams:    streamRepo,
		Streamers:  streamerRepo,
		Events:     eventRepo,
		Processing: processingRepo,
		Metadata:   metadataRepo,
		Tasks:      taskRepo,
		Rescan:     rescan,
		Log:        logger,
	})
	pipe.Register(executor)

	// Recorder: one session state machine per streamer
	mgr := recorder.New(recorder.Deps{
		Config:     cfg.Recording,
		Tools:      cfg.Tools,
		Layout:     lay,
		Resolver:   res,
		Runner:     recorder.NewSupervisorRunner(sup),
		Pipeline:   pipe,
		Notifier:   hub,
		Waker:      runner,
		Activity:   activity,
		Streamers:  streamerRepo,
		Streams:    streamRepo,
		Events:     eventRepo,
		Recordings: recordingRepo,
		Tasks:      taskRepo,
		Log:        logger,
	})

	// Crash recovery coordinator
	coord := recovery.New(recovery.Deps{
		Server:     cfg.Server,
		Twitch:     cfg.Twitch,
		Recording:  cfg.Recording,
		Root:       cfg.Storage.RecordingsDir,
		Procs:      sup,
		API:        tw,
		Pipeline:   pipe,
		Recorder:   mgr,
		Scheduler:  scheduler,
		Streamers:  streamerRepo,
		Streams:    streamRepo,
		Recordings: recordingRepo,
		Tasks:      taskRepo,
		Rescan:     rescan,
		Log:        logger,
	})
	coord.Register(executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recovery must complete before EventSub intake opens: salvage decisions
	// depend on seeing the pre-crash state, not freshly arriving events.
	if err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	// EventSub dispatch into the recorder
	dispatcher := eventsub.NewDispatcher(eventsub.NewDeduplicator(), streamerRepo, mgr, logger)

	// Services
	streamerSvc := service.NewStreamerService(
		streamerRepo, tw, mgr, fetcher, res,
		cfg.Server.CallbackURL(), cfg.Twitch.WebhookSecret,
	).WithLogger(logger)
	settingsSvc := service.NewSettingsService(settingsRepo, res).WithLogger(logger)
	recordingSvc := service.NewRecordingService(recordingRepo, streamRepo, processingRepo, taskRepo)
	queueSvc := service.NewQueueService(taskRepo).WithLogger(logger)

	// HTTP server and routes
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Version)

	handlers.NewWebhookHandler(cfg.Twitch.WebhookSecret, dispatcher, logger).Register(server.Router())
	handlers.NewWSHandler(hub, logger).Register(server.Router())

	handlers.NewStreamerHandler(streamerSvc).Register(server.API())
	handlers.NewRecordingHandler(recordingSvc).Register(server.API())
	handlers.NewQueueHandler(queueSvc).Register(server.API())
	handlers.NewSettingsHandler(settingsSvc).Register(server.API())
	handlers.NewStatusHandler(mgr).Register(server.API())
	handlers.NewHealthHandler(version.Version, db.DB, taskRepo, hub).Register(server.API())

	// Status fan-out snapshot sources
	hub.SetActiveRecordingsSource(mgr.ActiveSessions)
	hub.SetQueueStatsSource(func(ctx context.Context) (any, error) {
		return taskRepo.Counts(ctx)
	})

	// Background components
	mgr.Start()
	runner.Start()
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	go hub.Run(ctx)
	go coord.Run(ctx)

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting vodarr server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.String("recordings_dir", cfg.Storage.RecordingsDir),
	)

	// Blocks until the context is cancelled, then shuts the HTTP listener
	// down first so no new EventSub notifications arrive mid-teardown.
	serveErr := server.ListenAndServe(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer shutdownCancel()

	// Order matters: stop accepting work, flush captures, drain the queue,
	// then reap whatever children are still alive.
	mgr.Stop(shutdownCtx)
	scheduler.Stop()
	runner.Stop()
	sup.TerminateAll(shutdownCtx, 10*time.Second)

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}
