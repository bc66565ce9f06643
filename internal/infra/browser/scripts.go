package browser

import (
	"encoding/json"
	"fmt"
)

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// BoundingBoxScript returns the drawing's getBBox() as {x, y, width, height},
// or null when the element is missing or the call throws.
func BoundingBoxScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	if (!el || typeof el.getBBox !== "function") return null;
	try {
		const b = el.getBBox();
		return {x: b.x, y: b.y, width: b.width, height: b.height};
	} catch (e) {
		return null;
	}
})()`, jsString(id))
}

// CanvasProgressScript returns [descendant element count, outerHTML length]
// for id, or null when the element is missing. Together they change while
// strokes are added or grown.
func CanvasProgressScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	return el ? [el.querySelectorAll("*").length, el.outerHTML.length] : null;
})()`, jsString(id))
}

// centerScript returns the viewport centre of id after scrolling it into view.
func centerScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	if (!el) return null;
	el.scrollIntoView({block: "center", inline: "center"});
	const r = el.getBoundingClientRect();
	return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, jsString(id))
}

// selectByTextScript picks the option whose trimmed text equals label and
// fires input and change so page listeners observe it. It returns false when
// no option matches.
func selectByTextScript(id, label string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	if (!el || !el.options) return false;
	const opt = Array.from(el.options).find(o => o.text.trim() === %s);
	if (!opt) return false;
	el.value = opt.value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
})()`, jsString(id), jsString(label))
}

// interactableScript reports whether id is rendered, visible and not disabled.
func interactableScript(id string) string {
	return fmt.Sprintf(`(() => {
	const el = document.getElementById(%s);
	if (!el || el.disabled) return false;
	const s = window.getComputedStyle(el);
	if (s.visibility === "hidden" || s.display === "none") return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
})()`, jsString(id))
}
