// Package session owns the overlay: the host surface, the magnifier that
// captures the source window, the imaging factory, the effect pipeline, the
// frame pump and the shell hook that ends the session when the desktop
// changes.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/FocusMirror/internal/effects"
	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
	"github.com/bryanchriswhite/FocusMirror/internal/pump"
	"github.com/bryanchriswhite/FocusMirror/internal/shellmon"
)

// HostTitle is the title of the host surface.
const HostTitle = "FocusMirror"

// Deps are the collaborators a session is built from.
type Deps struct {
	Backend platform.Backend
	// NewFactory creates the imaging factory. Nil means the memory factory.
	NewFactory func() (imaging.Factory, error)
	// Presenters receive every processed frame in addition to the host.
	Presenters []effects.Presenter
}

// Options are the caller's creation parameters.
type Options struct {
	Source    platform.Handle
	FrameRate uint32
	Effects   string
	NoDisturb bool
}

// Session is a live overlay. Every method except Done, EndReason and Status
// must run on the backend's loop thread.
type Session struct {
	backend platform.Backend
	opts    Options
	log     *zerolog.Logger

	rect     platform.Rect
	host     platform.Handle
	mag      platform.Handle
	factory  imaging.Factory
	pipeline *effects.Pipeline
	bridge   *imaging.Bridge
	pump     *pump.Pump
	monitor  *shellmon.Monitor
	started  time.Time

	releases releaseStack

	mu        sync.Mutex
	destroyed bool
	reason    EndReason
	done      chan struct{}
}

// Create validates opts and builds the session. Preconditions are checked
// before any platform resource is touched; a failure in any later step
// releases everything acquired so far.
func Create(deps Deps, opts Options) (*Session, error) {
	log := logger.WithComponent("session")

	if err := reserve(); err != nil {
		return nil, err
	}
	if err := pump.ValidateRate(opts.FrameRate); err != nil {
		abandon()
		return nil, err
	}
	b := deps.Backend
	if opts.Source == 0 || !b.IsWindowVisible(opts.Source) {
		abandon()
		return nil, fmt.Errorf("%w: %#x is not a visible window", ErrInvalidSourceWindow, uintptr(opts.Source))
	}

	s := &Session{
		backend: b,
		opts:    opts,
		log:     log,
		done:    make(chan struct{}),
	}
	if err := s.acquire(deps); err != nil {
		s.releases.unwind(log)
		abandon()
		close(s.done)
		log.Error().Err(err).Uint64("source", uint64(opts.Source)).Msg("Failed to create overlay")
		return nil, err
	}

	s.started = time.Now()
	commit(s)

	log.Info().
		Uint64("source", uint64(opts.Source)).
		Str("rect", s.rect.String()).
		Uint32("frame_rate", opts.FrameRate).
		Stringer("mode", s.pump.Mode).
		Bool("no_disturb", opts.NoDisturb).
		Msg("Overlay started")
	publish(Event{Type: EventStarted, Source: opts.Source, FrameRate: opts.FrameRate, Time: s.started})
	return s, nil
}

func (s *Session) acquire(deps Deps) error {
	b := s.backend

	if err := b.InitRuntime(); err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	s.releases.push("runtime", func() error { b.UninitRuntime(); return nil })

	rect, err := b.ClientScreenRect(s.opts.Source)
	if err != nil {
		return fmt.Errorf("read source rect: %w", err)
	}
	if rect.Empty() {
		return fmt.Errorf("%w: client area %s is empty", ErrInvalidSourceWindow, rect)
	}
	s.rect = rect

	if err := b.RegisterHostClass(hostProc); err != nil {
		return fmt.Errorf("register host class: %w", err)
	}
	s.releases.push("host class", b.UnregisterHostClass)

	if err := b.InitMagnification(); err != nil {
		return fmt.Errorf("init magnification: %w", err)
	}
	s.releases.push("magnification", b.UninitMagnification)

	screen, err := b.ScreenSize(s.opts.Source)
	if err != nil {
		return fmt.Errorf("read screen size: %w", err)
	}
	host, err := b.CreateHostWindow(platform.HostWindowOptions{
		Size:      screen,
		NoDisturb: s.opts.NoDisturb,
		Title:     HostTitle,
		Source:    s.opts.Source,
	})
	if err != nil {
		return fmt.Errorf("create host window: %w", err)
	}
	s.host = host
	s.releases.push("host window", func() error { return b.DestroyWindow(host) })

	newFactory := deps.NewFactory
	if newFactory == nil {
		newFactory = func() (imaging.Factory, error) { return imaging.NewMemoryFactory(), nil }
	}
	factory, err := newFactory()
	if err != nil {
		return fmt.Errorf("create imaging factory: %w", err)
	}
	s.factory = factory
	s.releases.push("imaging factory", factory.Close)

	outputs := effects.Tee{effects.HostPresenter{Backend: b, Host: host}}
	outputs = append(outputs, deps.Presenters...)
	pipeline, err := effects.New(effects.Params{
		Host:       host,
		Descriptor: s.opts.Effects,
		Source:     rect,
		Factory:    factory,
		NoDisturb:  s.opts.NoDisturb,
		Target:     screen,
		Output:     outputs,
	})
	if err != nil {
		return fmt.Errorf("build effect pipeline: %w", err)
	}
	s.pipeline = pipeline

	s.bridge = imaging.NewBridge(s.renderTarget)
	mag, err := b.CreateMagnifier(host, rect.Size(), s.bridge.Callback)
	if err != nil {
		return fmt.Errorf("create magnifier: %w", err)
	}
	s.mag = mag
	s.releases.push("magnifier", func() error { return b.DestroyWindow(mag) })

	if err := b.ShowWindow(host); err != nil {
		return fmt.Errorf("show host window: %w", err)
	}

	p, err := pump.New(s.opts.FrameRate, s.live, s.captureNow)
	if err != nil {
		return err
	}
	if err := p.Start(b, host); err != nil {
		return fmt.Errorf("start frame pump: %w", err)
	}
	s.pump = p
	s.releases.push("frame pump", p.Stop)

	monitor, err := shellmon.Register(b, host)
	if err != nil {
		return fmt.Errorf("register shell hook: %w", err)
	}
	s.monitor = monitor
	s.releases.push("shell hook", monitor.Deregister)

	return nil
}

func (s *Session) live() bool { return isCurrent(s) }

// captureNow asks the magnifier for one frame of the source rect.
func (s *Session) captureNow() error {
	return s.backend.SetMagnifierSource(s.mag, s.rect)
}

func (s *Session) renderTarget() (imaging.Renderer, imaging.Factory, bool) {
	if !isCurrent(s) {
		return nil, nil, false
	}
	return s.pipeline, s.factory, true
}

// Destroy ends the session on request. It is idempotent and a no-op on a
// nil session.
func (s *Session) Destroy() {
	s.end(ReasonRequested, "")
}

func (s *Session) end(reason EndReason, detail string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.reason = reason
	s.mu.Unlock()

	vacate(s)
	s.releases.unwind(s.log)
	close(s.done)

	s.log.Info().
		Str("reason", string(reason)).
		Str("detail", detail).
		Uint64("source", uint64(s.opts.Source)).
		Msg("Overlay ended")
	publish(Event{
		Type:      EventEnded,
		Source:    s.opts.Source,
		FrameRate: s.opts.FrameRate,
		Reason:    reason,
		Detail:    detail,
		Time:      time.Now(),
	})
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// EndReason returns why the session ended, or ReasonNone while it is live.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Host returns the host surface handle.
func (s *Session) Host() platform.Handle { return s.host }

// SourceRect returns the captured client area.
func (s *Session) SourceRect() platform.Rect { return s.rect }

// Shutdown tears down the current session, if any, for process exit.
func Shutdown() {
	if s := Current(); s != nil {
		s.end(ReasonShutdown, "")
	}
}
