package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/bdougie/egogaze/internal/salience"
)

func TestMarkFixationDrawsRing(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 80))
	marked := MarkFixation(src, salience.Fixation{X: 0.5, Y: 0.5}, 20, 4, Red)

	if marked.Bounds() != src.Bounds() {
		t.Fatalf("bounds %v, want %v", marked.Bounds(), src.Bounds())
	}
	// on the ring
	if c := marked.RGBAAt(70, 40); c.R < 200 {
		t.Errorf("ring pixel = %v, want red", c)
	}
	// center of the ring stays untouched
	if c := marked.RGBAAt(50, 40); c.R != 0 {
		t.Errorf("center pixel = %v, want black", c)
	}
	// far outside
	if c := marked.RGBAAt(2, 2); c.R != 0 {
		t.Errorf("corner pixel = %v, want black", c)
	}
	// source is not modified
	if c := src.RGBAAt(70, 40); c.R != 0 {
		t.Error("MarkFixation modified its input")
	}
}

func TestBlend(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := range frame.Pix {
		frame.Pix[i] = 100
	}
	sal := image.NewGray(image.Rect(0, 0, 4, 3))
	sal.SetGray(0, 0, color.Gray{Y: 255})

	out := Blend(frame, sal, 0)
	if out.Bounds() != frame.Bounds() {
		t.Fatalf("bounds %v", out.Bounds())
	}
	if c := out.RGBAAt(3, 3); c.R != 100 || c.G != 100 || c.B != 100 {
		t.Errorf("alpha 0 changed the frame: %v", c)
	}

	out = Blend(frame, sal, 1)
	if c := out.RGBAAt(7, 5); c != Heat(0) {
		t.Errorf("alpha 1 pixel = %v, want %v", c, Heat(0))
	}
}

func TestHeatRamp(t *testing.T) {
	if c := Heat(0); c.B == 0 || c.R != 0 {
		t.Errorf("Heat(0) = %v, want blue", c)
	}
	if c := Heat(255); c.R == 0 || c.B != 0 {
		t.Errorf("Heat(255) = %v, want red", c)
	}
}
