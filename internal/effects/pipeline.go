package effects

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

// ErrUnknownEffect is returned for descriptor steps naming no known effect.
var ErrUnknownEffect = errors.New("unknown effect")

// Params configures a Pipeline.
type Params struct {
	Host       platform.Handle
	Descriptor string
	Source     platform.Rect
	Factory    imaging.Factory
	NoDisturb  bool
	// Target is the output size, normally the host surface size. Zero means
	// the source size.
	Target platform.Size
	Output Presenter
}

// Pipeline applies the descriptor's effects to each frame and presents the
// result.
type Pipeline struct {
	effects []Effect
	output  Presenter

	frames atomic.Uint64
}

// New parses the descriptor and builds every effect. Unknown effects and
// invalid parameters fail construction.
func New(p Params) (*Pipeline, error) {
	if p.Output == nil {
		return nil, fmt.Errorf("effects: no output presenter")
	}
	steps, err := ParseDescriptor(p.Descriptor)
	if err != nil {
		return nil, err
	}

	target := p.Target
	if target.Width <= 0 || target.Height <= 0 {
		target = p.Source.Size()
	}
	ctx := buildContext{
		target:    image.Pt(int(target.Width), int(target.Height)),
		noDisturb: p.NoDisturb,
	}

	pl := &Pipeline{output: p.Output}
	for i, s := range steps {
		build, ok := registry[s.Effect]
		if !ok {
			return nil, fmt.Errorf("effect step %d: %w %q", i, ErrUnknownEffect, s.Effect)
		}
		e, err := build(s, ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrBadDescriptor, i, err)
		}
		pl.effects = append(pl.effects, e)
	}

	factory := "none"
	if p.Factory != nil {
		factory = p.Factory.Name()
	}
	logger.WithComponent("effects").Info().
		Uint64("host", uint64(p.Host)).
		Str("factory", factory).
		Strs("effects", pl.EffectNames()).
		Str("source", p.Source.String()).
		Int32("target_width", target.Width).
		Int32("target_height", target.Height).
		Bool("no_disturb", p.NoDisturb).
		Msg("Effect pipeline ready")
	return pl, nil
}

// Render converts img to RGBA, runs every effect and presents the result.
func (p *Pipeline) Render(img image.Image) error {
	frame, err := imaging.ToRGBA(img)
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	for _, e := range p.effects {
		out, err := e.Apply(frame)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		frame = out
	}
	if err := p.output.Present(frame); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	p.frames.Add(1)
	return nil
}

// EffectNames lists the effects in application order.
func (p *Pipeline) EffectNames() []string {
	names := make([]string, len(p.effects))
	for i, e := range p.effects {
		names[i] = e.Name()
	}
	return names
}

// Frames returns how many frames were presented.
func (p *Pipeline) Frames() uint64 { return p.frames.Load() }
