package salience

import (
	"bytes"
	"image"
	"image/png"
	"math"
)

// Fixed binomial kernels for small sizes, matching the common image toolchain
// behavior when no explicit sigma is given.
var smallKernels = map[int][]float64{
	1: {1},
	3: {0.25, 0.5, 0.25},
	5: {0.0625, 0.25, 0.375, 0.25, 0.0625},
	7: {0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125},
}

// epsilon is the machine epsilon for float64.
const epsilon = 2.220446049250313e-16

// KernelSize returns int(6*sigma+1), bumped to the next odd integer.
func KernelSize(sigma float64) int {
	k := int(6*sigma + 1)
	if k%2 == 0 {
		k++
	}
	if k < 1 {
		k = 1
	}
	return k
}

// GaussianKernel returns a normalized 1D kernel of odd size k. The standard
// deviation is derived from k as 0.3*((k-1)*0.5-1)+0.8.
func GaussianKernel(k int) []float64 {
	if fixed, ok := smallKernels[k]; ok {
		return append([]float64(nil), fixed...)
	}

	sigma := 0.3*(float64(k-1)*0.5-1) + 0.8
	scale := -0.5 / (sigma * sigma)
	center := float64(k-1) / 2

	kernel := make([]float64, k)
	sum := 0.0
	for i := range kernel {
		d := float64(i) - center
		kernel[i] = math.Exp(scale * d * d)
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// Blur convolves the field with a separable Gaussian of size k. Borders are
// reflected without repeating the edge sample (dcb|abcd|cba).
func Blur(f *Field, k int) *Field {
	kernel := GaussianKernel(k)
	half := len(kernel) / 2
	w, h := f.Width, f.Height

	tmp := make([]float64, len(f.Values))
	for y := range h {
		row := f.Values[y*w : (y+1)*w]
		for x := range w {
			sum := 0.0
			for i, kv := range kernel {
				sum += kv * row[reflect101(x+i-half, w)]
			}
			tmp[y*w+x] = sum
		}
	}

	out := &Field{Width: w, Height: h, Values: make([]float64, len(f.Values))}
	for y := range h {
		for x := range w {
			sum := 0.0
			for i, kv := range kernel {
				sum += kv * tmp[reflect101(y+i-half, h)*w+x]
			}
			out.Values[y*w+x] = sum
		}
	}
	return out
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

// Normalize min-max scales the field onto [0,255], dropping the fractional
// part of every pixel. A constant field, including
// the all-zero field of an empty fixation sequence, maps to all zeros.
func Normalize(f *Field) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	if len(f.Values) == 0 {
		return img
	}

	lo, hi := f.Values[0], f.Values[0]
	for _, v := range f.Values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo <= epsilon {
		return img
	}

	span := hi - lo
	for y := range f.Height {
		for x := range f.Width {
			// truncated toward zero; the maximum lands on exactly 255
			v := math.Floor((f.Values[y*f.Width+x] - lo) / span * 255)
			img.Pix[y*img.Stride+x] = uint8(min(max(v, 0), 255))
		}
	}
	return img
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
