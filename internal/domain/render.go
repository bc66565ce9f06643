package domain

// BoundingBox is the minimal rectangle enclosing the rendered drawing, in
// the drawing's own user units.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Result is a standalone SVG document produced for one input text.
type Result struct {
	SVG         string
	ViewBox     string
	BoundingBox *BoundingBox
}
