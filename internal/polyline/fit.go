package polyline

import (
	"bytes"
	"fmt"
	"math"

	svg "github.com/ajstarks/svgo"
)

// paddingScale shrinks a fitted drawing so the pen never touches the border.
const paddingScale = 0.97

// Fit translates lines to the origin, scales them uniformly into a
// width x height area, centres them along the axis with slack and optionally
// shrinks them by 3% about their centre. The input is not modified.
func Fit(lines []Polyline, width, height float64, padding bool) []Polyline {
	out := clone(lines)
	minX, minY, _, _, ok := bounds(out)
	if !ok {
		return out
	}
	translate(out, -minX, -minY)

	_, _, maxX, maxY, _ := bounds(out)
	ratio, byHeight := fitRatio(maxX, maxY, width, height)
	for _, l := range out {
		for i := range l {
			l[i][0] *= ratio
			l[i][1] *= ratio
		}
	}

	if byHeight {
		translate(out, width/2-maxX*ratio/2, 0)
	} else {
		translate(out, 0, height/2-maxY*ratio/2)
	}

	if padding {
		x0, y0, x1, y1, _ := bounds(out)
		cx, cy := (x0+x1)/2, (y0+y1)/2
		for _, l := range out {
			for i := range l {
				l[i][0] = cx + (l[i][0]-cx)*paddingScale
				l[i][1] = cy + (l[i][1]-cy)*paddingScale
			}
		}
	}
	return out
}

// fitRatio picks the limiting axis. A zero extent defers to the other axis;
// a single point is left unscaled.
func fitRatio(maxX, maxY, width, height float64) (ratio float64, byHeight bool) {
	switch {
	case maxX == 0 && maxY == 0:
		return 1, true
	case maxX == 0:
		return height / maxY, true
	case maxY == 0:
		return width / maxX, false
	}
	rx, ry := width/maxX, height/maxY
	if ry <= rx {
		return ry, true
	}
	return rx, false
}

func clone(lines []Polyline) []Polyline {
	out := make([]Polyline, 0, len(lines))
	for _, l := range lines {
		out = append(out, append(Polyline(nil), l...))
	}
	return out
}

func bounds(lines []Polyline) (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, l := range lines {
		for _, p := range l {
			minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
			minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
			ok = true
		}
	}
	return
}

func translate(lines []Polyline, dx, dy float64) {
	for _, l := range lines {
		for i := range l {
			l[i][0] += dx
			l[i][1] += dy
		}
	}
}

// previewUnits is the number of preview user units per drawing unit; svgo
// works in integers.
const previewUnits = 100

// Preview draws lines as an SVG document sized width x height drawing units.
// Plotter Y grows upwards, so the preview flips it back for display.
func Preview(lines []Polyline, width, height float64) string {
	var buf bytes.Buffer
	w, h := int(math.Ceil(width*previewUnits)), int(math.Ceil(height*previewUnits))

	canvas := svg.New(&buf)
	canvas.Startview(int(math.Ceil(width*4)), int(math.Ceil(height*4)), 0, 0, w, h)
	canvas.Gtransform(fmt.Sprintf("translate(0,%d) scale(1,-1)", h))
	for _, l := range lines {
		xs := make([]int, len(l))
		ys := make([]int, len(l))
		for i, p := range l {
			xs[i] = int(math.Round(p[0] * previewUnits))
			ys[i] = int(math.Round(p[1] * previewUnits))
		}
		canvas.Polyline(xs, ys, "fill:none;stroke:black;stroke-width:40;stroke-linecap:round;stroke-linejoin:round")
	}
	canvas.Gend()
	canvas.End()
	return buf.String()
}
