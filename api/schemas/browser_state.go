package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// -- Browser State Schemas --

// BoundingBox is an element's layout rectangle in CSS pixels, relative to the viewport.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DOMElement describes one interactive element of a snapshot.
type DOMElement struct {
	Index      int               `json:"index"`
	TagName    string            `json:"tagName"`
	Role       string            `json:"role,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	XPath      string            `json:"xpath"`
	BBox       *BoundingBox      `json:"bbox,omitempty"`
	IsVisible  bool              `json:"isVisible"`
	InViewport bool              `json:"inViewport"`
	// IsNew marks elements that did not exist in the previous snapshot of the same URL.
	IsNew       bool   `json:"isNew"`
	Fingerprint string `json:"-"`
}

// TabInfo is the metadata of one open page target.
type TabInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// BrowserStateSnapshot is a point-in-time capture of the active tab. It is never
// mutated after construction; the next capture supersedes it.
type BrowserStateSnapshot struct {
	url         string
	title       string
	tabs        []TabInfo
	elements    map[int]DOMElement
	order       []int
	screenshot  string
	pixelsAbove int
	pixelsBelow int
	capturedAt  time.Time
}

// SnapshotParams carries the captured data into NewBrowserStateSnapshot.
type SnapshotParams struct {
	URL         string
	Title       string
	Tabs        []TabInfo
	Elements    []DOMElement
	Screenshot  string
	PixelsAbove int
	PixelsBelow int
	CapturedAt  time.Time
}

// NewBrowserStateSnapshot builds an immutable snapshot. Elements are keyed by their Index;
// later duplicates of an index are ignored.
func NewBrowserStateSnapshot(p SnapshotParams) *BrowserStateSnapshot {
	s := &BrowserStateSnapshot{
		url:         p.URL,
		title:       p.Title,
		tabs:        append([]TabInfo(nil), p.Tabs...),
		elements:    make(map[int]DOMElement, len(p.Elements)),
		order:       make([]int, 0, len(p.Elements)),
		screenshot:  p.Screenshot,
		pixelsAbove: p.PixelsAbove,
		pixelsBelow: p.PixelsBelow,
		capturedAt:  p.CapturedAt,
	}
	if s.capturedAt.IsZero() {
		s.capturedAt = time.Now()
	}
	for _, el := range p.Elements {
		if _, dup := s.elements[el.Index]; dup {
			continue
		}
		attrs := make(map[string]string, len(el.Attributes))
		for k, v := range el.Attributes {
			attrs[k] = v
		}
		el.Attributes = attrs
		if el.BBox != nil {
			box := *el.BBox
			el.BBox = &box
		}
		s.elements[el.Index] = el
		s.order = append(s.order, el.Index)
	}
	sort.Ints(s.order)
	return s
}

func (s *BrowserStateSnapshot) URL() string           { return s.url }
func (s *BrowserStateSnapshot) Title() string         { return s.title }
func (s *BrowserStateSnapshot) Screenshot() string    { return s.screenshot }
func (s *BrowserStateSnapshot) HasScreenshot() bool   { return s.screenshot != "" }
func (s *BrowserStateSnapshot) CapturedAt() time.Time { return s.capturedAt }
func (s *BrowserStateSnapshot) PixelsAbove() int      { return s.pixelsAbove }
func (s *BrowserStateSnapshot) PixelsBelow() int      { return s.pixelsBelow }

// Tabs returns a copy of the tab list.
func (s *BrowserStateSnapshot) Tabs() []TabInfo {
	return append([]TabInfo(nil), s.tabs...)
}

// Element resolves an index against this snapshot.
func (s *BrowserStateSnapshot) Element(index int) (DOMElement, bool) {
	el, ok := s.elements[index]
	return el, ok
}

// Indices returns the element indices in ascending order.
func (s *BrowserStateSnapshot) Indices() []int {
	return append([]int(nil), s.order...)
}

// Len is the number of indexed elements.
func (s *BrowserStateSnapshot) Len() int { return len(s.order) }

// WithoutScreenshot returns a copy with the image dropped, for agents running without vision.
func (s *BrowserStateSnapshot) WithoutScreenshot() *BrowserStateSnapshot {
	if s.screenshot == "" {
		return s
	}
	c := *s
	c.screenshot = ""
	return &c
}

// describedAttributes are rendered into the element list in this order.
var describedAttributes = []string{"type", "name", "placeholder", "aria-label", "title", "value", "href", "role", "aria-expanded"}

// ElementsText renders the interactive elements one per line, e.g.
// `[3]<button aria-label="Search">Go</button>`. New elements are starred: `*[7]*<a>...`.
func (s *BrowserStateSnapshot) ElementsText() string {
	var sb strings.Builder
	for _, idx := range s.order {
		el := s.elements[idx]
		tag := strings.ToLower(el.TagName)
		if el.IsNew {
			fmt.Fprintf(&sb, "*[%d]*<%s", idx, tag)
		} else {
			fmt.Fprintf(&sb, "[%d]<%s", idx, tag)
		}
		for _, name := range describedAttributes {
			if v, ok := el.Attributes[name]; ok && v != "" && v != el.Text {
				fmt.Fprintf(&sb, " %s=%q", name, truncate(v, 80))
			}
		}
		fmt.Fprintf(&sb, ">%s</%s>\n", truncate(el.Text, 120), tag)
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
