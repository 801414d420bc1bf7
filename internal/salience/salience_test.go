package salience

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func decodeGray(t *testing.T, encoded string) (gray []byte, w, h int) {
	t.Helper()

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decoding base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding png: %v", err)
	}
	if img.ColorModel() != color.GrayModel {
		t.Errorf("color model is %v, want 8-bit gray", img.ColorModel())
	}

	bounds := img.Bounds()
	w, h = bounds.Dx(), bounds.Dy()
	gray = make([]byte, w*h)
	for y := range h {
		for x := range w {
			c := color.GrayModel.Convert(img.At(x+bounds.Min.X, y+bounds.Min.Y)).(color.Gray)
			gray[y*w+x] = c.Y
		}
	}
	return gray, w, h
}

func TestTemporalWeights(t *testing.T) {
	tests := []struct {
		n    int
		want []float64
	}{
		{0, nil},
		{1, []float64{10}},
		{2, []float64{10, 100}},
		{4, []float64{10, 40, 70, 100}},
	}
	for _, tc := range tests {
		got := TemporalWeights(tc.n)
		if len(got) != len(tc.want) {
			t.Fatalf("TemporalWeights(%d) = %v, want %v", tc.n, got, tc.want)
		}
		for i := range got {
			if diff := got[i] - tc.want[i]; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("TemporalWeights(%d)[%d] = %g, want %g", tc.n, i, got[i], tc.want[i])
			}
		}
	}
}

func TestKernelSize(t *testing.T) {
	tests := []struct {
		sigma float64
		want  int
	}{
		{20, 121},
		{1, 7},
		{0.5, 5}, // int(4) -> 5
		{2.5, 17},
		{0, 1},
	}
	for _, tc := range tests {
		if got := KernelSize(tc.sigma); got != tc.want {
			t.Errorf("KernelSize(%g) = %d, want %d", tc.sigma, got, tc.want)
		}
	}
}

func TestGaussianKernelSumsToOne(t *testing.T) {
	for _, k := range []int{1, 3, 7, 9, 121} {
		sum := 0.0
		kernel := GaussianKernel(k)
		for _, v := range kernel {
			sum += v
		}
		if sum < 1-1e-9 || sum > 1+1e-9 {
			t.Errorf("kernel %d sums to %g", k, sum)
		}
		for i := range kernel {
			if kernel[i] != kernel[k-1-i] {
				t.Errorf("kernel %d not symmetric at %d", k, i)
			}
		}
	}
}

func TestReflect101(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{3, 1, 0},
		{-7, 3, 1},
	}
	for _, tc := range tests {
		if got := reflect101(tc.i, tc.n); got != tc.want {
			t.Errorf("reflect101(%d, %d) = %d, want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func TestDeterministic(t *testing.T) {
	dims := Dimensions{Height: 120, Width: 160}
	fixations := []Fixation{{0.1, 0.2}, {0.5, 0.5}, {0.9, 0.7}}

	a, err := Render(dims, fixations, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Render(dims, fixations, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("identical inputs produced different output")
	}
}

func TestEmptyFixations(t *testing.T) {
	encoded, err := Render(Dimensions{Height: 48, Width: 64}, nil, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	gray, w, h := decodeGray(t, encoded)
	if w != 64 || h != 48 {
		t.Fatalf("size %dx%d, want 64x48", w, h)
	}
	for i, v := range gray {
		if v != 0 {
			t.Fatalf("pixel %d = %d, want 0", i, v)
		}
	}
}

func TestBoundsSafety(t *testing.T) {
	sizes := []Dimensions{
		{Height: 1, Width: 1},
		{Height: 1, Width: 7},
		{Height: 5, Width: 3},
		{Height: 37, Width: 251},
		{Height: 480, Width: 640},
	}
	fixations := []Fixation{
		{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0.5, 1}, {0.999, 0.001},
	}

	for _, dims := range sizes {
		t.Run(fmt.Sprintf("%dx%d", dims.Width, dims.Height), func(t *testing.T) {
			encoded, err := Render(dims, fixations, DefaultParams())
			if err != nil {
				t.Fatal(err)
			}
			_, w, h := decodeGray(t, encoded)
			if w != dims.Width || h != dims.Height {
				t.Errorf("size %dx%d, want %dx%d", w, h, dims.Width, dims.Height)
			}
		})
	}
}

func TestEdgeFixationDiscCenter(t *testing.T) {
	dims := Dimensions{Height: 480, Width: 640}
	field := Accumulate(dims, []Fixation{{1, 0.5}}, DefaultParams())

	// x=1 lands on column 639 before the disc is laid down, so the disc
	// samples fall on 629, 619, ... and never on 630.
	if v := field.At(629, 240); v <= 0 {
		t.Errorf("disc sample at 629 = %g, want > 0", v)
	}
	if v := field.At(630, 240); v != 0 {
		t.Errorf("column 630 = %g, want 0", v)
	}
	if field.At(639, 240) <= field.At(629, 240) {
		t.Errorf("border %g not above inner sample %g", field.At(639, 240), field.At(629, 240))
	}
}

func TestRecencyWeighting(t *testing.T) {
	dims := Dimensions{Height: 480, Width: 640}
	p := DefaultParams()

	for _, n := range []int{2, 3, 10} {
		fixations := make([]Fixation, n)
		for i := range fixations {
			fixations[i] = Fixation{0.2, 0.2}
		}
		// well separated from the others, disc radius is 60px
		fixations[0] = Fixation{0.1, 0.1}
		fixations[n-1] = Fixation{0.8, 0.8}

		field := Accumulate(dims, fixations, p)
		early := field.At(64, 48)
		late := field.At(512, 384)
		if !(late > early) {
			t.Errorf("n=%d: later fixation %g not above earlier %g", n, late, early)
		}
	}
}

func TestNormalizationRange(t *testing.T) {
	encoded, err := Render(Dimensions{Height: 200, Width: 300}, []Fixation{{0.3, 0.6}}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	gray, _, _ := decodeGray(t, encoded)

	var has0, has255 bool
	for _, v := range gray {
		has0 = has0 || v == 0
		has255 = has255 || v == 255
	}
	if !has0 || !has255 {
		t.Errorf("range does not span [0,255]: has0=%v has255=%v", has0, has255)
	}
}

func TestNormalizeTruncates(t *testing.T) {
	f := NewField(Dimensions{Height: 1, Width: 4})
	copy(f.Values, []float64{0, 1.9, 127.5, 255})

	img := Normalize(f)
	want := []uint8{0, 1, 127, 255}
	for i, v := range want {
		if img.Pix[i] != v {
			t.Errorf("pixel %d = %d, want %d", i, img.Pix[i], v)
		}
	}
}

func TestCenteredBlob(t *testing.T) {
	encoded, err := Render(Dimensions{Height: 480, Width: 640}, []Fixation{{0.5, 0.5}, {0.5, 0.5}}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	gray, w, _ := decodeGray(t, encoded)
	at := func(x, y int) int { return int(gray[y*w+x]) }

	if at(320, 240) != 255 {
		t.Errorf("peak = %d, want 255", at(320, 240))
	}
	for _, d := range []int{5, 20, 40, 80} {
		values := []int{at(320+d, 240), at(320-d, 240), at(320, 240+d), at(320, 240-d)}
		for _, v := range values[1:] {
			if diff := v - values[0]; diff > 1 || diff < -1 {
				t.Errorf("not radially symmetric at distance %d: %v", d, values)
				break
			}
		}
		if values[0] >= 255 {
			t.Errorf("value at distance %d is %d, want below peak", d, values[0])
		}
	}
}

func TestCornerFixation(t *testing.T) {
	encoded, err := Render(Dimensions{Height: 100, Width: 100}, []Fixation{{0, 0}}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	gray, w, h := decodeGray(t, encoded)

	if gray[0] != 255 {
		t.Errorf("corner = %d, want 255", gray[0])
	}
	if v := gray[(h-1)*w+w-1]; v > 1 {
		t.Errorf("opposite corner = %d, want ~0", v)
	}

	quadrant := func(x0, y0 int) (sum int) {
		for y := y0; y < y0+h/2; y++ {
			for x := x0; x < x0+w/2; x++ {
				sum += int(gray[y*w+x])
			}
		}
		return sum
	}
	if topLeft, bottomRight := quadrant(0, 0), quadrant(w/2, h/2); topLeft <= bottomRight {
		t.Errorf("top-left mass %d not above bottom-right %d", topLeft, bottomRight)
	}
}

func TestRenderImageMatchesRender(t *testing.T) {
	dims := Dimensions{Height: 30, Width: 40}
	fixations := []Fixation{{0.25, 0.75}}

	img := RenderImage(dims, fixations, DefaultParams())
	if img.Bounds() != image.Rect(0, 0, 40, 30) {
		t.Fatalf("bounds %v", img.Bounds())
	}
	encoded, err := Render(dims, fixations, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	gray, _, _ := decodeGray(t, encoded)
	if !bytes.Equal(gray, img.Pix) {
		t.Error("encoded map differs from RenderImage")
	}
}

func BenchmarkRender(b *testing.B) {
	dims := Dimensions{Height: 480, Width: 640}
	fixations := make([]Fixation, 9)
	for i := range fixations {
		fixations[i] = Fixation{X: float64(i) / 9, Y: 0.5}
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, err := Render(dims, fixations, DefaultParams()); err != nil {
			b.Fatal(err)
		}
	}
}
