// Package core wires the entity store, the telemetry bus, and the three
// pipelines into one owned object. Dependency injection stops here; the only
// singleton is the one Core the program entry point builds.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mjc/reencodarr-sub000/internal/config"
	"github.com/mjc/reencodarr-sub000/internal/database"
	"github.com/mjc/reencodarr-sub000/internal/events"
	"github.com/mjc/reencodarr-sub000/internal/failures"
	"github.com/mjc/reencodarr-sub000/internal/hints"
	"github.com/mjc/reencodarr-sub000/internal/media"
	"github.com/mjc/reencodarr-sub000/internal/mediasvc"
	"github.com/mjc/reencodarr-sub000/internal/models"
	"github.com/mjc/reencodarr-sub000/internal/pipeline"
	"github.com/mjc/reencodarr-sub000/internal/procrunner"
	"github.com/mjc/reencodarr-sub000/internal/repository"
	"github.com/mjc/reencodarr-sub000/internal/scheduler"
	"github.com/mjc/reencodarr-sub000/internal/service"
)

// Core owns every long-lived component of the re-encoding orchestrator.
type Core struct {
	cfg    *config.Config
	logger *slog.Logger

	DB  *database.DB
	Bus *events.Bus

	Videos    repository.VideoRepository
	Vmafs     repository.VmafRepository
	Libraries repository.LibraryRepository
	Failures  repository.VideoFailureRepository

	Machine     *media.StateMachine
	Analyzer    *pipeline.Analyzer
	CrfSearcher *pipeline.CrfSearcher
	Encoder     *pipeline.Encoder
	Maintenance *service.MaintenanceService

	sched  *scheduler.Scheduler
	cancel context.CancelFunc
}

// New builds the fully wired core from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	tempDir := cfg.Storage.TempPath()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	bus := events.NewBus(logger)

	videos := repository.NewVideoRepository(db.DB)
	vmafs := repository.NewVmafRepository(db.DB)
	libraries := repository.NewLibraryRepository(db.DB)
	failrepo := repository.NewVideoFailureRepository(db.DB)

	machine := media.NewStateMachine(videos, bus, logger)
	recorder := failures.NewRecorder(failrepo, logger)
	runner := procrunner.NewRunner(logger)
	hinter := hints.NewEngine(vmafs)

	sonarr := mediasvc.NewClient(models.ServiceTypeSonarr, cfg.Services.Sonarr, cfg.Services.RequestTimeout, logger)
	radarr := mediasvc.NewClient(models.ServiceTypeRadarr, cfg.Services.Radarr, cfg.Services.RequestTimeout, logger)
	post := pipeline.NewPostProcessor(sonarr, radarr, recorder, failrepo, logger)

	analyzer := pipeline.NewAnalyzer(cfg.Pipelines, videos, libraries, machine, recorder, runner, bus, logger)
	searcher := pipeline.NewCrfSearcher(cfg.Pipelines, tempDir, videos, vmafs, failrepo, machine, recorder, hinter, runner, bus, logger)
	encoder := pipeline.NewEncoder(cfg.Pipelines, tempDir, videos, machine, recorder, runner, post, bus, logger)

	// Completion in one pipeline nudges the next one's producer.
	analyzer.SetNext(searcher)
	searcher.SetNext(encoder)

	maintenance := service.NewMaintenanceService(db, videos, vmafs, logger)
	maintenance.SetAnalyzerDispatcher(analyzer)

	return &Core{
		cfg:         cfg,
		logger:      logger,
		DB:          db,
		Bus:         bus,
		Videos:      videos,
		Vmafs:       vmafs,
		Libraries:   libraries,
		Failures:    failrepo,
		Machine:     machine,
		Analyzer:    analyzer,
		CrfSearcher: searcher,
		Encoder:     encoder,
		Maintenance: maintenance,
	}, nil
}

// Start launches the three pipelines and the maintenance scheduler. Cancel
// by calling Stop.
func (c *Core) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.Analyzer.Start(ctx)
	c.CrfSearcher.Start(ctx)
	c.Encoder.Start(ctx)

	c.sched = scheduler.New(ctx, c.logger)
	if err := c.sched.Register(scheduler.Job{
		Name:     "delete_missing_paths",
		Schedule: c.cfg.Scheduler.DeleteMissingCron,
		Run: func(ctx context.Context) error {
			_, err := c.Maintenance.DeleteMissingPaths(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	c.sched.Start()

	c.logger.Info("core started")
	return nil
}

// Stop cancels the pipelines, waits for in-flight messages, and closes
// shared resources.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.Analyzer.Wait()
	c.CrfSearcher.Wait()
	c.Encoder.Wait()

	if c.sched != nil {
		c.sched.Stop()
	}

	c.Bus.Close()
	if err := c.DB.Close(); err != nil {
		c.logger.Warn("closing database", slog.String("error", err.Error()))
	}
	c.logger.Info("core stopped")
}
