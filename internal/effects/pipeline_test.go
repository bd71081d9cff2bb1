package effects

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/FocusMirror/internal/imaging"
	"github.com/bryanchriswhite/FocusMirror/internal/platform"
)

type capture struct {
	frames []*image.RGBA
}

func (c *capture) Present(img *image.RGBA) error {
	c.frames = append(c.frames, img)
	return nil
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newPipeline(t *testing.T, descriptor string, target platform.Size, noDisturb bool) (*Pipeline, *capture) {
	t.Helper()
	out := &capture{}
	p, err := New(Params{
		Descriptor: descriptor,
		Source:     platform.Rect{Right: 40, Bottom: 20},
		Factory:    imaging.NewMemoryFactory(),
		NoDisturb:  noDisturb,
		Target:     target,
		Output:     out,
	})
	if err != nil {
		t.Fatalf("New(%q): %v", descriptor, err)
	}
	return p, out
}

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"empty list", "[]", 0, false},
		{"json", `[{"effect":"scale","mode":"fit"},{"effect":"sharpen","strength":0.3}]`, 2, false},
		{"yaml", "- effect: invert\n- effect: grayscale\n", 2, false},
		{"missing effect", `[{"mode":"fit"}]`, 0, true},
		{"not a list", `{"effect":"scale"}`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := ParseDescriptor(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(steps) != tt.want {
				t.Fatalf("got %d steps, want %d", len(steps), tt.want)
			}
		})
	}
}

func TestNewRejectsBadDescriptors(t *testing.T) {
	for _, d := range []string{
		`[{"effect":"blur"}]`,
		`[{"effect":"scale","filter":"lanczos"}]`,
		`[{"effect":"scale","mode":"factor"}]`,
		`[{"effect":"sharpen","strength":2}]`,
		`[{"effect":"text"}]`,
		`[{"effect":"text","text":"x","color":"not-a-color"}]`,
	} {
		_, err := New(Params{Descriptor: d, Output: &capture{}})
		if err == nil {
			t.Errorf("New(%s) succeeded", d)
			continue
		}
		if d != `[{"effect":"blur"}]` && !errors.Is(err, ErrBadDescriptor) {
			t.Errorf("New(%s) = %v, want ErrBadDescriptor", d, err)
		}
	}

	_, err := New(Params{Descriptor: `[{"effect":"blur"}]`, Output: &capture{}})
	if !errors.Is(err, ErrUnknownEffect) {
		t.Fatalf("err = %v, want ErrUnknownEffect", err)
	}
}

func TestIdentityPipelinePresentsSourceSize(t *testing.T) {
	p, out := newPipeline(t, "", platform.Size{}, false)
	if err := p.Render(solid(40, 20, color.RGBA{10, 20, 30, 255})); err != nil {
		t.Fatal(err)
	}
	if len(out.frames) != 1 || out.frames[0].Bounds().Dx() != 40 {
		t.Fatalf("presented %d frames", len(out.frames))
	}
	if p.Frames() != 1 {
		t.Fatalf("Frames = %d", p.Frames())
	}
}

func TestRenderConvertsBGRA(t *testing.T) {
	p, out := newPipeline(t, "", platform.Size{}, false)
	pix := []byte{1, 2, 3, 255}
	view, err := imaging.NewBGRA(pix, 1, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Render(view); err != nil {
		t.Fatal(err)
	}
	got := out.frames[0].RGBAAt(0, 0)
	if got != (color.RGBA{3, 2, 1, 255}) {
		t.Fatalf("pixel = %v", got)
	}
	if pix[0] != 1 {
		t.Fatal("render modified the capture buffer")
	}
}

type failingBitmap struct{ *image.RGBA }

func (failingBitmap) ConvertRGBA() (*image.RGBA, error) { return nil, errors.New("no converter") }

func TestRenderFailsWhenConversionFails(t *testing.T) {
	p, out := newPipeline(t, "", platform.Size{}, false)
	if err := p.Render(failingBitmap{solid(2, 2, color.RGBA{})}); err == nil {
		t.Fatal("Render succeeded with a failing converter")
	}
	if len(out.frames) != 0 || p.Frames() != 0 {
		t.Fatalf("presented %d frames", len(out.frames))
	}
}

func TestScaleModes(t *testing.T) {
	tests := []struct {
		descriptor string
		content    image.Rectangle
	}{
		// 40x20 into 100x100: fit keeps 2:1 and letterboxes vertically.
		{`[{"effect":"scale","mode":"fit","filter":"nearest"}]`, image.Rect(0, 25, 100, 75)},
		{`[{"effect":"scale","mode":"fill","filter":"nearest"}]`, image.Rect(0, 0, 100, 100)},
		{`[{"effect":"scale","scale":[1,2],"filter":"nearest"}]`, image.Rect(30, 30, 70, 70)},
	}
	for _, tt := range tests {
		t.Run(tt.descriptor, func(t *testing.T) {
			p, out := newPipeline(t, tt.descriptor, platform.Size{Width: 100, Height: 100}, false)
			if err := p.Render(solid(40, 20, color.RGBA{255, 255, 255, 255})); err != nil {
				t.Fatal(err)
			}
			img := out.frames[0]
			if img.Bounds() != image.Rect(0, 0, 100, 100) {
				t.Fatalf("bounds = %v", img.Bounds())
			}
			in := img.RGBAAt(tt.content.Min.X, tt.content.Min.Y)
			if in.R != 255 {
				t.Fatalf("content corner %v = %v", tt.content.Min, in)
			}
			if tt.content.Min.Y > 0 {
				if bg := img.RGBAAt(0, tt.content.Min.Y-1); bg.R != 0 {
					t.Fatalf("letterbox pixel = %v", bg)
				}
			}
		})
	}
}

func TestColorEffects(t *testing.T) {
	p, out := newPipeline(t, `[{"effect":"grayscale"},{"effect":"invert"}]`, platform.Size{}, false)
	if err := p.Render(solid(2, 2, color.RGBA{255, 0, 0, 255})); err != nil {
		t.Fatal(err)
	}
	got := out.frames[0].RGBAAt(1, 1)
	// Rec. 601 luma of pure red is 76; inverted 179.
	if got.R != 179 || got.G != 179 || got.B != 179 || got.A != 255 {
		t.Fatalf("pixel = %v", got)
	}
}

func TestSharpenKeepsFlatAreas(t *testing.T) {
	p, out := newPipeline(t, `[{"effect":"sharpen","strength":1}]`, platform.Size{}, false)
	if err := p.Render(solid(5, 5, color.RGBA{100, 100, 100, 255})); err != nil {
		t.Fatal(err)
	}
	if got := out.frames[0].RGBAAt(2, 2); got.R != 100 {
		t.Fatalf("flat pixel changed to %v", got)
	}
}

func TestTextOverlay(t *testing.T) {
	const d = `[{"effect":"text","text":"LIVE","x":0,"y":0,"padding":0,"color":"white"}]`

	p, out := newPipeline(t, d, platform.Size{}, false)
	if err := p.Render(solid(40, 20, color.RGBA{0, 0, 0, 255})); err != nil {
		t.Fatal(err)
	}
	if !hasBrightPixel(out.frames[0]) {
		t.Fatal("text was not drawn")
	}

	quiet, qout := newPipeline(t, d, platform.Size{}, true)
	if err := quiet.Render(solid(40, 20, color.RGBA{0, 0, 0, 255})); err != nil {
		t.Fatal(err)
	}
	if hasBrightPixel(qout.frames[0]) {
		t.Fatal("text drawn in no-disturb mode")
	}
}

func hasBrightPixel(img *image.RGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] > 128 {
			return true
		}
	}
	return false
}

func TestTeeJoinsErrors(t *testing.T) {
	var calls int
	ok := PresenterFunc(func(*image.RGBA) error { calls++; return nil })
	bad := PresenterFunc(func(*image.RGBA) error { calls++; return errors.New("down") })

	err := Tee{bad, ok, nil}.Present(solid(1, 1, color.RGBA{}))
	if err == nil || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestParseColor(t *testing.T) {
	tests := map[string]color.RGBA{
		"#fff":      {255, 255, 255, 255},
		"#102030":   {0x10, 0x20, 0x30, 255},
		"red":       {255, 0, 0, 255},
		"#ff000000": {0, 0, 0, 0},
	}
	for in, want := range tests {
		got, err := ParseColor(in)
		if err != nil || got != want {
			t.Errorf("ParseColor(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseColor("#12"); err == nil {
		t.Error("ParseColor(#12) succeeded")
	}
}
