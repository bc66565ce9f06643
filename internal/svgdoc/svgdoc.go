// Package svgdoc turns the drawing read from the page into a standalone SVG
// document: it computes a padded viewBox from the drawing's bounding box and
// rewrites the root <svg> element's attributes.
package svgdoc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"svgscribe/internal/domain"
)

// Namespace is the SVG XML namespace.
const Namespace = "http://www.w3.org/2000/svg"

// CanvasID is set as the root id when the markup already declares a namespace.
const CanvasID = "canvas"

// ParseBoundingBox decodes the JSON returned by the in-page getBBox call.
// It reports false for null, invalid JSON, or any missing or non-numeric field.
func ParseBoundingBox(raw []byte) (*domain.BoundingBox, bool) {
	var fields struct {
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	if fields.X == nil || fields.Y == nil || fields.Width == nil || fields.Height == nil {
		return nil, false
	}
	return &domain.BoundingBox{X: *fields.X, Y: *fields.Y, Width: *fields.Width, Height: *fields.Height}, true
}

// ViewBox grows bb by margin on every side. A nil box yields fallback.
func ViewBox(bb *domain.BoundingBox, margin float64, fallback string) string {
	if bb == nil {
		return fallback
	}
	return strings.Join([]string{
		formatNumber(bb.X - margin),
		formatNumber(bb.Y - margin),
		formatNumber(bb.Width + 2*margin),
		formatNumber(bb.Height + 2*margin),
	}, " ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Patch parses markup, locates the first <svg> element and sets its
// attributes by name. Without an xmlns declaration it gains xmlns and
// viewBox; with one it keeps it and gains id and viewBox. New attributes are
// placed first in the tag. Only the <svg> subtree is returned.
func Patch(markup, viewBox string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}

	var root *html.Node
	for _, n := range nodes {
		if root = findSVG(n); root != nil {
			break
		}
	}
	if root == nil {
		return "", domain.ErrNoSVGElement
	}

	// Insert in reverse so the resulting order matches the argument order.
	if _, ok := attr(root, "xmlns"); !ok {
		setAttr(root, "viewBox", viewBox)
		setAttr(root, "xmlns", Namespace)
	} else {
		setAttr(root, "viewBox", viewBox)
		setAttr(root, "id", CanvasID)
	}

	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return "", fmt.Errorf("render markup: %w", err)
	}
	return b.String(), nil
}

func findSVG(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "svg" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findSVG(c); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// setAttr replaces key in place, or prepends it when absent.
func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append([]html.Attribute{{Key: key, Val: val}}, n.Attr...)
}
