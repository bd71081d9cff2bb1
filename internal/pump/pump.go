// Package pump drives capture requests at a fixed interval or as fast as the
// message queue allows.
package pump

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// Frame rate bounds. A rate of 0 selects max-rate mode.
const (
	MinRate = 30
	MaxRate = 120
)

// TimerID is the timer installed on the host in fixed-interval mode.
const TimerID uintptr = 1

// SignalMessage is the self-posted message of max-rate mode.
const SignalMessage = platform.WMUser

// ErrInvalidFrameRate is returned for rates outside {0} ∪ [MinRate, MaxRate].
var ErrInvalidFrameRate = errors.New("invalid frame rate")

// Mode selects how captures are scheduled.
type Mode int

const (
	// ModeInterval captures on a recurring timer.
	ModeInterval Mode = iota
	// ModeMaxRate captures every time the self-posted signal is dispatched.
	ModeMaxRate
)

func (m Mode) String() string {
	switch m {
	case ModeInterval:
		return "interval"
	case ModeMaxRate:
		return "max-rate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ValidateRate checks rate without touching any resource.
func ValidateRate(rate uint32) error {
	if rate == 0 || (rate >= MinRate && rate <= MaxRate) {
		return nil
	}
	return fmt.Errorf("%w: %d (want 0 or %d-%d)", ErrInvalidFrameRate, rate, MinRate, MaxRate)
}

// IntervalFor returns the timer period for rate: 1000/rate milliseconds,
// using integer division. It returns 0 for max-rate.
func IntervalFor(rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(1000/rate) * time.Millisecond
}

// Pump schedules captures. All methods run on the loop thread.
type Pump struct {
	Mode     Mode
	Interval time.Duration

	live    func() bool
	capture func() error

	backend platform.Backend
	host    platform.Handle
	running bool

	captures atomic.Uint64
	failures atomic.Uint64
}

// New returns a pump for rate. live reports whether the owning session is
// still current; capture is the single "capture now" primitive.
func New(rate uint32, live func() bool, capture func() error) (*Pump, error) {
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	p := &Pump{
		Mode:     ModeInterval,
		Interval: IntervalFor(rate),
		live:     live,
		capture:  capture,
	}
	if rate == 0 {
		p.Mode = ModeMaxRate
	}
	return p, nil
}

// Start installs the timer or posts the first signal to host.
func (p *Pump) Start(b platform.Backend, host platform.Handle) error {
	if p.running {
		return fmt.Errorf("pump already running")
	}
	p.backend, p.host = b, host

	switch p.Mode {
	case ModeInterval:
		if err := b.SetTimer(host, TimerID, p.Interval); err != nil {
			return fmt.Errorf("failed to start frame timer: %w", err)
		}
	case ModeMaxRate:
		if err := b.PostMessage(host, SignalMessage, 0, 0); err != nil {
			return fmt.Errorf("failed to post frame signal: %w", err)
		}
	}
	p.running = true

	logger.WithComponent("pump").Debug().
		Stringer("mode", p.Mode).
		Dur("interval", p.Interval).
		Msg("Frame pump started")
	return nil
}

// Stop kills the timer. In max-rate mode the signal already in the queue is
// ignored when it arrives.
func (p *Pump) Stop() error {
	if !p.running {
		return nil
	}
	p.running = false
	if p.Mode == ModeInterval {
		return p.backend.KillTimer(p.host, TimerID)
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (p *Pump) Running() bool { return p.running }

// HandleTick services one timer tick.
func (p *Pump) HandleTick() {
	if !p.running || !p.live() {
		return
	}
	p.captureNow()
}

// HandleSignal services one max-rate signal and posts the next one.
func (p *Pump) HandleSignal() {
	if !p.running || !p.live() {
		return
	}
	p.captureNow()

	// The capture may have ended the session.
	if !p.running || !p.live() {
		return
	}
	if err := p.backend.PostMessage(p.host, SignalMessage, 0, 0); err != nil {
		p.failures.Add(1)
		logger.WithComponent("pump").Error().Err(err).Msg("Failed to repost frame signal")
	}
}

func (p *Pump) captureNow() {
	p.captures.Add(1)
	if err := p.capture(); err != nil {
		p.failures.Add(1)
		logger.WithComponent("pump").Error().Err(err).Msg("Capture request failed")
	}
}

// Captures returns how many captures were requested.
func (p *Pump) Captures() uint64 { return p.captures.Load() }

// Failures returns how many capture or repost requests failed.
func (p *Pump) Failures() uint64 { return p.failures.Load() }
