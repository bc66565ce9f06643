// Package polyline converts rendered handwriting into pen-plotter strokes:
// every SVG path is flattened into point lists, flipped into plotter
// orientation and fitted into a target drawing area.
package polyline

import (
	"fmt"
	"math"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"
)

// Point is an (x, y) pair. It marshals as a two-element JSON array.
type Point [2]float64

// Polyline is one continuous pen-down stroke.
type Polyline []Point

// FromSVG flattens every path of doc into polylines. Curves are subdivided
// into curveSteps segments. The Y axis is flipped against the largest
// original Y (never below zero) so the drawing reads upright on a plotter.
func FromSVG(doc string, curveSteps int) ([]Polyline, error) {
	if curveSteps < 1 {
		curveSteps = 1
	}
	icon, err := oksvg.ReadIconStream(strings.NewReader(doc), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("parse svg: %w", err)
	}

	f := &flattener{steps: curveSteps}
	for _, p := range icon.SVGPaths {
		p.Path.AddTo(f)
	}
	f.flush()

	flipY(f.lines)
	return f.lines, nil
}

func flipY(lines []Polyline) {
	maxY := 0.0
	for _, l := range lines {
		for _, p := range l {
			maxY = math.Max(maxY, p[1])
		}
	}
	for _, l := range lines {
		for i := range l {
			l[i][1] = maxY - l[i][1]
		}
	}
}

// flattener implements rasterx.Adder, collecting straight segments.
type flattener struct {
	steps int
	lines []Polyline
	cur   Polyline
}

var _ rasterx.Adder = (*flattener)(nil)

func toPoint(p fixed.Point26_6) Point {
	return Point{float64(p.X) / 64, float64(p.Y) / 64}
}

func (f *flattener) last() Point {
	return f.cur[len(f.cur)-1]
}

func (f *flattener) Start(a fixed.Point26_6) {
	f.flush()
	f.cur = Polyline{toPoint(a)}
}

func (f *flattener) Line(b fixed.Point26_6) {
	if len(f.cur) == 0 {
		f.cur = Polyline{{0, 0}}
	}
	f.cur = append(f.cur, toPoint(b))
}

func (f *flattener) QuadBezier(b, c fixed.Point26_6) {
	if len(f.cur) == 0 {
		f.cur = Polyline{{0, 0}}
	}
	p0, p1, p2 := f.last(), toPoint(b), toPoint(c)
	for i := 1; i <= f.steps; i++ {
		t := float64(i) / float64(f.steps)
		u := 1 - t
		f.cur = append(f.cur, Point{
			u*u*p0[0] + 2*u*t*p1[0] + t*t*p2[0],
			u*u*p0[1] + 2*u*t*p1[1] + t*t*p2[1],
		})
	}
}

func (f *flattener) CubeBezier(b, c, d fixed.Point26_6) {
	if len(f.cur) == 0 {
		f.cur = Polyline{{0, 0}}
	}
	p0, p1, p2, p3 := f.last(), toPoint(b), toPoint(c), toPoint(d)
	for i := 1; i <= f.steps; i++ {
		t := float64(i) / float64(f.steps)
		u := 1 - t
		f.cur = append(f.cur, Point{
			u*u*u*p0[0] + 3*u*u*t*p1[0] + 3*u*t*t*p2[0] + t*t*t*p3[0],
			u*u*u*p0[1] + 3*u*u*t*p1[1] + 3*u*t*t*p2[1] + t*t*t*p3[1],
		})
	}
}

func (f *flattener) Stop(closeLoop bool) {
	if closeLoop && len(f.cur) > 1 && f.cur[0] != f.last() {
		f.cur = append(f.cur, f.cur[0])
	}
	f.flush()
}

// flush keeps strokes with at least two points; a lone move-to draws nothing.
func (f *flattener) flush() {
	if len(f.cur) > 1 {
		f.lines = append(f.lines, f.cur)
	}
	f.cur = nil
}
