package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FocusMirror/internal/api"
	"github.com/bryanchriswhite/FocusMirror/internal/config"
	"github.com/bryanchriswhite/FocusMirror/internal/effects"
	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/notify"
	"github.com/bryanchriswhite/FocusMirror/internal/output"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/session"
)

// app holds everything a command needs once configuration is resolved.
type app struct {
	configMgr *config.Manager
	cfg       *config.Config
	backend   platform.Backend
	notifier  notify.Notifier
	preview   *output.MJPEGOutput
	server    *api.Server
}

// newApp loads the config file, applies flag and environment overrides,
// initializes logging and opens the platform backend.
func newApp() (*app, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := configMgr.Resolve(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("cli").Debug().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", cfg.Backend).
		Msg("Configuration loaded")

	backend, err := platform.Open(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q backend: %w", cfg.Backend, err)
	}
	if sim, ok := backend.(*platform.Sim); ok {
		// Something to mirror on a dry run.
		sim.AddWindow("FocusMirror demo", platform.Rect{Left: 160, Top: 120, Right: 1120, Bottom: 660}, true)
	}

	return &app{
		configMgr: configMgr,
		cfg:       cfg,
		backend:   backend,
		notifier:  notify.New(cfg.Notify),
	}, nil
}

func (a *app) deps() session.Deps {
	d := session.Deps{
		Backend:    a.backend,
		NewFactory: imaging.FactoryFor(a.backend.Name()),
	}
	if a.preview != nil {
		d.Presenters = []effects.Presenter{a.preview}
	}
	return d
}

// startServices starts the MJPEG preview and the status API when enabled.
func (a *app) startServices() error {
	if a.cfg.Preview.Enabled {
		a.preview = output.NewMJPEGOutput(output.Config{
			Quality: a.cfg.Preview.Quality,
			MaxFPS:  a.cfg.Preview.MaxFPS,
		})
		if err := a.preview.Start(); err != nil {
			return fmt.Errorf("failed to start preview: %w", err)
		}
	}
	if !a.cfg.Server.Enabled && a.preview == nil {
		return nil
	}

	a.server = api.NewServer(a.deps(), *a.cfg, a.preview)
	port := a.cfg.Server.Port
	go func() {
		if err := a.server.Start(port); err != nil {
			logger.WithComponent("api").Error().Err(err).Int("port", port).Msg("HTTP server failed")
		}
	}()
	logger.WithComponent("cli").Info().
		Int("port", port).
		Bool("preview", a.preview != nil).
		Msgf("Status API on http://localhost:%d/api", port)
	return nil
}

// runLoop pumps the backend message loop on the calling thread until ctx is
// done, then ends any live session.
func (a *app) runLoop(ctx context.Context) error {
	err := a.backend.RunLoop(ctx)
	session.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("message loop failed: %w", err)
	}
	return nil
}

func (a *app) close() {
	log := logger.WithComponent("cli")
	if a.server != nil {
		if err := a.server.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to stop HTTP server")
		}
	}
	if a.preview != nil {
		a.preview.Stop()
	}
	if err := a.notifier.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close notifier")
	}
	if err := a.backend.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close backend")
	}
}
