package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"DeckPilot/cache"
	"DeckPilot/config"
	"DeckPilot/core/device"
	"DeckPilot/core/matcher"
	"DeckPilot/core/navigation"
	"DeckPilot/core/orchestrator"
	"DeckPilot/core/safety"
	"DeckPilot/core/timing"
	"DeckPilot/db"
	"DeckPilot/logger"
	"DeckPilot/model"
	"DeckPilot/repository"
	"DeckPilot/storage"

	"github.com/go-redis/redis/v8"
)

// stack is everything a performing process holds on to.
type stack struct {
	store    repository.TrackRepository
	library  string
	folders  []model.BrowserNode
	matcher  *matcher.Matcher
	link     *device.Link
	output   device.Output
	nav      *navigation.Engine
	gate     *safety.Gate
	redis    *redis.Client
	sessions *cache.SessionCache
	reports  *storage.ReportStore
	closers  []func()
}

type stackOptions struct {
	dryRun      bool
	libraryFile string // YAML library served from memory instead of the database
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStore returns the metadata store: the YAML library in memory when a
// file is given, the configured database otherwise.
func openStore(ctx context.Context, cfg *config.Config, libraryFile string) (repository.TrackRepository, string, []model.BrowserNode, func(), error) {
	if libraryFile != "" {
		lib, err := repository.LoadLibrary(libraryFile)
		if err != nil {
			return nil, "", nil, nil, err
		}
		name := lib.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(libraryFile), filepath.Ext(libraryFile))
		}
		store := repository.NewMemoryTrackRepository(nil)
		if _, _, err := store.UpsertTracks(ctx, lib.Tracks()); err != nil {
			return nil, "", nil, nil, err
		}
		return store, name, lib.Folders, func() {}, nil
	}

	gdb, err := db.OpenGorm(cfg)
	if err != nil {
		return nil, "", nil, nil, err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		db.CloseGormDB()
		return nil, "", nil, nil, err
	}
	closer := func() {
		if err := db.CloseGormDB(); err != nil {
			logger.Warn("close database failed", logger.ErrorField(err))
		}
	}
	return repository.NewGormTrackRepository(gdb), cfg.DBName, nil, closer, nil
}

// openRedis connects when Redis is enabled. Redis only caches, so a failure
// is logged and the process continues without it.
func openRedis(cfg *config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	client, err := db.ConnectRedis(cfg)
	if err != nil {
		logger.Warn("redis unavailable, offsets and snapshots will not persist", logger.ErrorField(err))
		return nil
	}
	return client
}

// openOutput opens the MIDI port, or a sink for dry runs.
func openOutput(cfg *config.Config, dryRun bool) (device.Output, func(), error) {
	if dryRun {
		logger.Info("dry run: MIDI messages are discarded")
		return &device.NullOutput{}, func() {}, nil
	}
	out, err := device.OpenMIDI(cfg.MIDIPort)
	if err != nil {
		return nil, nil, err
	}
	return out, device.CloseDriver, nil
}

func navigationConfig(cfg *config.Config) navigation.Config {
	return navigation.Config{
		GroundMoves:    cfg.GroundMoves,
		CollapsePasses: cfg.CollapsePasses,
		GroundDelay:    cfg.GroundDelay,
		MoveDelay:      cfg.MoveDelay,
		FolderDelay:    cfg.FolderDelay,
		ExpandDelay:    cfg.ExpandDelay,
	}
}

// folderLayout merges NAV_FOLDERS positions with the folders of a library
// file.
func folderLayout(cfg *config.Config, folders []model.BrowserNode) []model.BrowserNode {
	layout := append([]model.BrowserNode(nil), folders...)
	known := make(map[int]bool, len(layout))
	for _, f := range layout {
		known[f.RelativeOffset] = true
	}
	for _, pos := range cfg.FolderLayout {
		if !known[pos] {
			layout = append(layout, model.BrowserNode{Name: fmt.Sprintf("folder-%d", pos), RelativeOffset: pos})
		}
	}
	return layout
}

func orchestratorConfig(cfg *config.Config) (orchestrator.Config, error) {
	bands, err := model.ParseTrajectory(cfg.EnergyTrajectory)
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		PreloadBars:        cfg.PreloadBars,
		MixBars:            cfg.MixBars,
		CrossfadeSteps:     cfg.CrossfadeSteps,
		CrossfadeStepDelay: cfg.CrossfadeStepDelay,
		PlayVolume:         cfg.PlayVolume,
		PreCue:             cfg.PreCue,
		PollInterval:       cfg.PollInterval,
		DefaultTempo:       cfg.DefaultTempo,
		DefaultTrackLength: cfg.DefaultTrackLength,
		MaxTracks:          cfg.MaxTracks,
		Trajectory:         bands,
	}, nil
}

// buildStack opens every collaborator of a session. The control map must
// pass the self-check before the device is touched.
func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (_ *stack, err error) {
	s := &stack{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	controls, err := device.LoadControlMap(cfg.MIDIMapping)
	if err != nil {
		return nil, err
	}
	if err := controls.SelfCheck(device.RequiredControls(model.DeckA, model.DeckB)); err != nil {
		return nil, fmt.Errorf("control map self-check: %w", err)
	}

	store, library, folders, closeStore, err := openStore(ctx, cfg, opts.libraryFile)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStore)
	s.store, s.library, s.folders = store, library, folders

	out, closeOut, err := openOutput(cfg, opts.dryRun)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeOut)
	s.output = out
	s.link = device.NewLink(out, controls)
	s.closers = append(s.closers, func() { s.link.Close() })

	var offsetStore navigation.OffsetStore
	if s.redis = openRedis(cfg); s.redis != nil {
		offsetStore = cache.NewOffsetCache(s.redis, library)
		s.sessions = cache.NewSessionCache(s.redis)
		s.closers = append(s.closers, func() { db.CloseRedis() })
	}
	offsets := navigation.NewOffsetTable(offsetStore)
	if err := offsets.Warm(ctx); err != nil {
		logger.Warn("offset table not warmed", logger.ErrorField(err))
	}

	s.nav = navigation.New(s.link, timing.Real(), navigationConfig(cfg),
		navigation.WithOffsets(offsets),
		navigation.WithLayout(folderLayout(cfg, folders)))
	s.gate = safety.New(s.link)
	s.matcher = matcher.New(store, matcher.Defaults{Tempo: cfg.DefaultTempo, Key: cfg.DefaultKey})

	if cfg.MinioEndpoint != "" {
		client, err := storage.InitMinio(ctx, cfg)
		if err != nil {
			logger.Warn("report archive unavailable", logger.ErrorField(err))
		} else {
			s.reports = storage.NewReportStore(client, cfg.ReportBucket)
		}
	}

	logger.Info("performer assembled",
		logger.String("library", library),
		logger.Int("folders", len(folders)),
		logger.Bool("dryRun", opts.dryRun),
		logger.Bool("redis", s.redis != nil),
		logger.Bool("reportArchive", s.reports != nil))
	return s, nil
}

// deps wires the stack into orchestrator dependencies. extra observers are
// appended after the session cache.
func (s *stack) deps(cfg *config.Config, extra ...orchestrator.Observer) orchestrator.Deps {
	sinks := orchestrator.MultiSink{orchestrator.LogSink{}}
	if s.reports != nil {
		sinks = append(sinks, s.reports)
	}
	var observers []orchestrator.Observer
	if s.sessions != nil {
		observers = append(observers, s.sessions)
	}
	observers = append(observers, extra...)
	return orchestrator.Deps{
		Navigator: s.nav,
		Link:      s.link,
		Gate:      s.gate,
		Selector:  orchestrator.NewSelector(s.matcher, cfg.TolerancePct, cfg.RelaxFactor),
		Clock:     timing.Real(),
		Reports:   sinks,
		Observers: observers,
	}
}

// sessionError names device loss for the shell.
func sessionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrUnavailable) {
		return fmt.Errorf("device link lost: %w", err)
	}
	return err
}

func newManager(s *stack, orchCfg orchestrator.Config, extra ...orchestrator.Observer) *orchestrator.Manager {
	return orchestrator.NewManager(orchCfg, s.deps(cfg, extra...), s.store)
}
