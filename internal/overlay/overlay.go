// Package overlay draws gaze information on top of video frames.
package overlay

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/bdougie/egogaze/internal/salience"
)

// circleSegments is the number of line segments used per circle.
const circleSegments = 64

// Red is the default mark color.
var Red = color.RGBA{R: 255, A: 255}

// MarkFixation returns a copy of img with a ring of the given radius and
// stroke thickness drawn around the fixation.
func MarkFixation(img image.Image, fix salience.Fixation, radius, thickness float64, c color.Color) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	cx := float32(fix.X * float64(w))
	cy := float32(fix.Y * float64(h))
	outer := float32(radius + thickness/2)
	inner := float32(math.Max(radius-thickness/2, 0))

	z := vector.NewRasterizer(w, h)
	z.DrawOp = draw.Over
	addCircle(z, cx, cy, outer, false)
	if inner > 0 {
		// opposite orientation cuts the hole
		addCircle(z, cx, cy, inner, true)
	}
	z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
	return dst
}

func addCircle(z *vector.Rasterizer, cx, cy, r float32, clockwise bool) {
	sign := float32(1)
	if clockwise {
		sign = -1
	}
	point := func(i int) (float32, float32) {
		theta := 2 * math.Pi * float64(i) / circleSegments
		return cx + r*float32(math.Cos(theta)), cy + sign*r*float32(math.Sin(theta))
	}
	z.MoveTo(point(0))
	for i := 1; i < circleSegments; i++ {
		z.LineTo(point(i))
	}
	z.ClosePath()
}

// Blend mixes a heat-colored salience map over frame. alpha is the weight of
// the heat layer; the map is resized to the frame when sizes differ.
func Blend(frame image.Image, sal *image.Gray, alpha float64) *image.RGBA {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	heat := sal
	if sal.Bounds().Dx() != w || sal.Bounds().Dy() != h {
		heat = image.NewGray(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(heat, heat.Bounds(), sal, sal.Bounds(), draw.Src, nil)
	}

	alpha = math.Min(math.Max(alpha, 0), 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), frame, b.Min, draw.Src)

	for y := range h {
		for x := range w {
			hc := Heat(heat.GrayAt(x+heat.Rect.Min.X, y+heat.Rect.Min.Y).Y)
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+4 : i+4]
			px[0] = mix(px[0], hc.R, alpha)
			px[1] = mix(px[1], hc.G, alpha)
			px[2] = mix(px[2], hc.B, alpha)
			px[3] = 255
		}
	}
	return dst
}

func mix(a, b uint8, alpha float64) uint8 {
	return uint8(math.Round(float64(a)*(1-alpha) + float64(b)*alpha))
}

// Heat maps an intensity onto a blue-to-red "jet" ramp.
func Heat(v uint8) color.RGBA {
	t := float64(v) / 255
	channel := func(offset float64) uint8 {
		c := 1.5 - math.Abs(4*t-offset)
		return uint8(math.Round(255 * math.Min(math.Max(c, 0), 1)))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}
