package effects

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// Effect transforms a frame. Implementations may modify src in place and
// return it, or return a new image.
type Effect interface {
	Name() string
	Apply(src *image.RGBA) (*image.RGBA, error)
}

type buildContext struct {
	target    image.Point
	noDisturb bool
}

type builder func(s Step, ctx buildContext) (Effect, error)

var registry = map[string]builder{
	"scale":     newScale,
	"sharpen":   newSharpen,
	"grayscale": func(Step, buildContext) (Effect, error) { return grayscale{}, nil },
	"invert":    func(Step, buildContext) (Effect, error) { return invert{}, nil },
	"text":      newTextEffect,
}

// Names returns the supported effect names.
func Names() []string {
	return []string{"scale", "sharpen", "grayscale", "invert", "text"}
}

var filters = map[string]draw.Interpolator{
	"nearest":         draw.NearestNeighbor,
	"approx-bilinear": draw.ApproxBiLinear,
	"bilinear":        draw.BiLinear,
	"catmull-rom":     draw.CatmullRom,
}

type scale struct {
	mode   string
	fx, fy float64
	filter draw.Interpolator
	target image.Point
}

func newScale(s Step, ctx buildContext) (Effect, error) {
	mode := strings.ToLower(s.Mode)
	if mode == "" {
		mode = "fit"
		if len(s.Scale) > 0 {
			mode = "factor"
		}
	}

	fname := strings.ToLower(s.Filter)
	if fname == "" {
		fname = "catmull-rom"
	}
	filter, ok := filters[fname]
	if !ok {
		return nil, fmt.Errorf("scale: unknown filter %q", s.Filter)
	}

	sc := &scale{mode: mode, filter: filter, target: ctx.target}
	switch mode {
	case "fit", "fill":
	case "factor":
		switch len(s.Scale) {
		case 1:
			sc.fx, sc.fy = s.Scale[0], s.Scale[0]
		case 2:
			sc.fx, sc.fy = s.Scale[0], s.Scale[1]
		default:
			return nil, fmt.Errorf("scale: factor mode needs \"scale\": [sx, sy]")
		}
		if sc.fx <= 0 || sc.fy <= 0 {
			return nil, fmt.Errorf("scale: factors must be positive, got %v", s.Scale)
		}
	default:
		return nil, fmt.Errorf("scale: unknown mode %q", s.Mode)
	}
	return sc, nil
}

func (s *scale) Name() string { return "scale" }

// Apply scales src onto a canvas of the target size. fit keeps the aspect
// ratio and letterboxes, fill stretches to the whole canvas, factor
// multiplies the source size. The result is centered.
func (s *scale) Apply(src *image.RGBA) (*image.RGBA, error) {
	sb := src.Bounds()
	tw, th := s.target.X, s.target.Y
	if tw <= 0 || th <= 0 {
		tw, th = sb.Dx(), sb.Dy()
	}

	var w, h int
	switch s.mode {
	case "fit":
		w, h = fitSize(sb.Dx(), sb.Dy(), tw, th)
	case "fill":
		w, h = tw, th
	case "factor":
		w, h = int(float64(sb.Dx())*s.fx+0.5), int(float64(sb.Dy())*s.fy+0.5)
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	if w <= 0 || h <= 0 {
		return dst, nil
	}
	x0, y0 := (tw-w)/2, (th-h)/2
	s.filter.Scale(dst, image.Rect(x0, y0, x0+w, y0+h), src, sb, draw.Src, nil)
	return dst, nil
}

func fitSize(sw, sh, tw, th int) (int, int) {
	if sw <= 0 || sh <= 0 {
		return 0, 0
	}
	// Compare tw/sw against th/sh without floating point.
	if tw*sh <= th*sw {
		return tw, sh * tw / sw
	}
	return sw * th / sh, th
}

type sharpen struct {
	strength float64
}

func newSharpen(s Step, _ buildContext) (Effect, error) {
	if s.Strength < 0 || s.Strength > 1 {
		return nil, fmt.Errorf("sharpen: strength must be within [0, 1], got %v", s.Strength)
	}
	strength := s.Strength
	if strength == 0 {
		strength = 0.5
	}
	return sharpen{strength: strength}, nil
}

func (sharpen) Name() string { return "sharpen" }

// Apply convolves with the unsharp kernel
//
//	 0  -s   0
//	-s 1+4s -s
//	 0  -s   0
//
// clamping at the image edges.
func (e sharpen) Apply(src *image.RGBA) (*image.RGBA, error) {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	w, h := b.Dx(), b.Dy()
	s := e.strength
	center := 1 + 4*s

	at := func(x, y, c int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(src.Pix[y*src.Stride+x*4+c])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*dst.Stride + x*4
			for c := 0; c < 3; c++ {
				v := center*at(x, y, c) - s*(at(x-1, y, c)+at(x+1, y, c)+at(x, y-1, c)+at(x, y+1, c))
				dst.Pix[i+c] = clamp8(v)
			}
			dst.Pix[i+3] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return dst, nil
}

func clamp8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

type grayscale struct{}

func (grayscale) Name() string { return "grayscale" }

// Apply uses Rec. 601 luma weights in 16.16 fixed point.
func (grayscale) Apply(src *image.RGBA) (*image.RGBA, error) {
	for i := 0; i+3 < len(src.Pix); i += 4 {
		y := (19595*uint32(src.Pix[i]) + 38470*uint32(src.Pix[i+1]) + 7471*uint32(src.Pix[i+2]) + 1<<15) >> 16
		src.Pix[i], src.Pix[i+1], src.Pix[i+2] = uint8(y), uint8(y), uint8(y)
	}
	return src, nil
}

type invert struct{}

func (invert) Name() string { return "invert" }

// Apply inverts color channels of premultiplied pixels, keeping alpha.
func (invert) Apply(src *image.RGBA) (*image.RGBA, error) {
	for i := 0; i+3 < len(src.Pix); i += 4 {
		a := src.Pix[i+3]
		src.Pix[i] = a - src.Pix[i]
		src.Pix[i+1] = a - src.Pix[i+1]
		src.Pix[i+2] = a - src.Pix[i+2]
	}
	return src, nil
}
