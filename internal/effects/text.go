package effects

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextOverlay draws a label onto frames with basicfont.
type TextOverlay struct {
	text      string
	x, y      int
	opacity   float64
	padding   int
	textColor color.RGBA
	bgColor   *color.RGBA
	hidden    bool
}

// NewTextOverlay builds a text overlay from a descriptor step.
func NewTextOverlay(s Step) (*TextOverlay, error) {
	if s.Text == "" {
		return nil, fmt.Errorf("text: requires non-empty \"text\"")
	}
	t := &TextOverlay{
		text:      s.Text,
		x:         s.X,
		y:         s.Y,
		opacity:   1.0,
		padding:   5,
		textColor: color.RGBA{255, 255, 255, 255},
	}
	if s.Opacity != nil {
		t.opacity = clampUnit(*s.Opacity)
	}
	if s.Padding != nil {
		t.padding = *s.Padding
	}
	if s.Color != "" {
		c, err := ParseColor(s.Color)
		if err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
		t.textColor = c
	}
	if s.Background != "" {
		c, err := ParseColor(s.Background)
		if err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}
		t.bgColor = &c
	}
	return t, nil
}

func newTextEffect(s Step, ctx buildContext) (Effect, error) {
	t, err := NewTextOverlay(s)
	if err != nil {
		return nil, err
	}
	// Overlays are chrome; no-disturb mirrors stay clean.
	t.hidden = ctx.noDisturb
	return t, nil
}

// Name returns "text".
func (t *TextOverlay) Name() string { return "text" }

// Apply draws the label at its configured position.
func (t *TextOverlay) Apply(img *image.RGBA) (*image.RGBA, error) {
	if t.hidden {
		return img, nil
	}

	face := basicfont.Face7x13
	lineHeight := face.Height

	d := &font.Drawer{Face: face}
	textWidth := d.MeasureString(t.text).Ceil()

	if t.bgColor != nil {
		bg := image.NewRGBA(image.Rect(0, 0, textWidth+t.padding*2, lineHeight+t.padding*2))
		draw.Draw(bg, bg.Bounds(), &image.Uniform{*t.bgColor}, image.Point{}, draw.Src)
		BlendImage(img, bg, t.x, t.y, t.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidth, lineHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(t.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	drawer.DrawString(t.text)

	BlendImage(img, textImg, t.x+t.padding, t.y+t.padding, t.opacity)
	return img, nil
}

// BlendImage composites src over dst at (x, y) with the given opacity,
// clipping to dst.
func BlendImage(dst *image.RGBA, src *image.RGBA, x, y int, opacity float64) {
	sb := src.Bounds()
	db := dst.Bounds()
	op := clampUnit(opacity)

	for sy := sb.Min.Y; sy < sb.Max.Y; sy++ {
		dy := y + (sy - sb.Min.Y)
		if dy < db.Min.Y || dy >= db.Max.Y {
			continue
		}
		for sx := sb.Min.X; sx < sb.Max.X; sx++ {
			dx := x + (sx - sb.Min.X)
			if dx < db.Min.X || dx >= db.Max.X {
				continue
			}
			si := src.PixOffset(sx, sy)
			sa := float64(src.Pix[si+3]) / 255 * op
			if sa <= 0 {
				continue
			}
			di := dst.PixOffset(dx, dy)
			// Both images are premultiplied: out = src*op + dst*(1-sa).
			for c := 0; c < 4; c++ {
				v := float64(src.Pix[si+c])*op + float64(dst.Pix[di+c])*(1-sa)
				dst.Pix[di+c] = clamp8(v)
			}
		}
	}
}

// ParseColor accepts "#rgb", "#rrggbb", "#rrggbbaa" or an SVG color name.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	c := color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
	return color.RGBAModel.Convert(c).(color.RGBA), nil
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
