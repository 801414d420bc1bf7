// Package salience renders an ordered sequence of gaze fixations into a single
// grayscale heatmap. Brightness encodes both where the viewer looked and how
// recently: later fixations deposit more weight than earlier ones.
package salience

import (
	"encoding/base64"
	"fmt"
	"image"
	"math"
)

// discStep is the spacing of the sampling grid used for disc deposits.
const discStep = 10

// Fixation is a single gaze point normalized to the frame, X and Y in [0,1].
type Fixation struct {
	X float64
	Y float64
}

// Dimensions is the pixel size of the reference image.
type Dimensions struct {
	Height int
	Width  int
}

// Params controls the shape of the salience map.
type Params struct {
	Sigma        float64 `yaml:"sigma"`         // Gaussian falloff in pixels
	DiscRadius   int     `yaml:"disc_radius"`   // radius of the deposit disc in pixels
	WeightGrowth float64 `yaml:"weight_growth"` // base multiplier for every deposit
	BlendAlpha   float64 `yaml:"blend_alpha"`   // used by overlay callers, not by Render
}

// DefaultParams returns the parameters used for benchmark prompting.
func DefaultParams() Params {
	return Params{
		Sigma:        20,
		DiscRadius:   60,
		WeightGrowth: 20,
		BlendAlpha:   0.5,
	}
}

// Field is a row-major scalar field over the pixel grid.
type Field struct {
	Width  int
	Height int
	Values []float64
}

// NewField allocates an all-zero field.
func NewField(dims Dimensions) *Field {
	return &Field{
		Width:  dims.Width,
		Height: dims.Height,
		Values: make([]float64, dims.Width*dims.Height),
	}
}

// At returns the value at pixel (x, y).
func (f *Field) At(x, y int) float64 {
	return f.Values[y*f.Width+x]
}

func (f *Field) add(x, y int, v float64) {
	f.Values[y*f.Width+x] += v
}

// TemporalWeights returns n evenly spaced values from 10 to 100 inclusive.
func TemporalWeights(n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{10}
	}

	const start, stop = 10.0, 100.0
	step := (stop - start) / float64(n-1)
	weights := make([]float64, n)
	for i := range n - 1 {
		weights[i] = start + float64(i)*step
	}
	weights[n-1] = stop
	return weights
}

// Accumulate deposits every fixation into a fresh field without blurring or
// normalizing it.
//
// Each fixation receives a Gaussian-weighted disc sampled on a grid of step 10,
// followed by a single deposit of WeightGrowth times its temporal weight at the
// center pixel. The center is clamped into the grid before the disc is laid
// down, and disc targets outside the grid are clamped onto the border, so
// fixations near an edge pile extra weight there.
func Accumulate(dims Dimensions, fixations []Fixation, p Params) *Field {
	field := NewField(dims)
	weights := TemporalWeights(len(fixations))
	r := p.DiscRadius
	twoSigmaSq := 2 * p.Sigma * p.Sigma

	for i, fix := range fixations {
		gx := clamp(int(fix.X*float64(dims.Width)), 0, dims.Width-1)
		gy := clamp(int(fix.Y*float64(dims.Height)), 0, dims.Height-1)

		for dx := -r; dx <= r; dx += discStep {
			for dy := -r; dy <= r; dy += discStep {
				distSq := float64(dx*dx + dy*dy)
				if math.Sqrt(distSq) > float64(r) {
					continue
				}
				tx := clamp(gx+dx, 0, dims.Width-1)
				ty := clamp(gy+dy, 0, dims.Height-1)
				field.add(tx, ty, p.WeightGrowth*math.Exp(-distSq/twoSigmaSq))
			}
		}

		// The center pixel already received the dx=dy=0 disc sample; this
		// second deposit stacks on top of it.
		field.add(gx, gy, p.WeightGrowth*weights[i])
	}

	return field
}

// RenderImage runs the full pipeline and returns the normalized grayscale map.
func RenderImage(dims Dimensions, fixations []Fixation, p Params) *image.Gray {
	field := Accumulate(dims, fixations, p)
	blurred := Blur(field, KernelSize(p.Sigma))
	return Normalize(blurred)
}

// Render returns the salience map for fixations as base64-encoded PNG text.
// The PNG is 8-bit grayscale with the reference image's dimensions.
func Render(dims Dimensions, fixations []Fixation, p Params) (string, error) {
	data, err := EncodePNG(RenderImage(dims, fixations, p))
	if err != nil {
		return "", fmt.Errorf("failed to encode salience map: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
