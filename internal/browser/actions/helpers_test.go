package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// fakeDropdown is the page-side state of one dropdown.
type fakeDropdown struct {
	kind    DropdownKind
	options []Option
	// hiddenPolls is how many inspections report no options before they appear.
	hiddenPolls int
	inspected   int
	selected    int
	applied     int
}

// fakePage simulates just enough of a tab for the action scripts.
type fakePage struct {
	mu sync.Mutex

	url       string
	dropdowns map[string]*fakeDropdown
	// clickNavigates maps an xpath to the URL a click on it leads to.
	clickNavigates map[string]string
	clickErr       error

	clicks      []string
	fills       map[string]string
	navigations []string
	evaluations int
	scrollY     float64
	// noDocument makes page scrolls report nothing found.
	noDocument bool

	mutation       MutationReport
	watchesStarted int
	watchesStopped int

	html       string
	screenshot []byte
}

var _ session.Page = (*fakePage)(nil)

func newFakePage(url string) *fakePage {
	return &fakePage{
		url:            url,
		dropdowns:      map[string]*fakeDropdown{},
		clickNavigates: map[string]string{},
		fills:          map[string]string{},
		mutation:       MutationReport{Present: true},
	}
}

// scriptArgs recovers the JSON argument array of a callScript expression.
func scriptArgs(expr string) ([]json.RawMessage, error) {
	const marker = ").apply(null, "
	i := strings.LastIndex(expr, marker)
	if i < 0 || !strings.HasSuffix(expr, ")") {
		return nil, errors.New("not a callScript expression")
	}
	var args []json.RawMessage
	err := json.Unmarshal([]byte(expr[i+len(marker):len(expr)-1]), &args)
	return args, err
}

func decodeInto(v interface{}, res interface{}) error {
	if res == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}

func (f *fakePage) Evaluate(ctx context.Context, expr string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluations++

	args, err := scriptArgs(expr)
	if err != nil {
		return err
	}
	var xpath string
	if len(args) > 0 {
		_ = json.Unmarshal(args[0], &xpath)
	}

	switch {
	case strings.Contains(expr, "webpilot:dropdown-inspect"):
		dd, ok := f.dropdowns[xpath]
		if !ok {
			return decodeInto(dropdownState{Found: false}, res)
		}
		dd.inspected++
		st := dropdownState{Found: true, Kind: dd.kind}
		if dd.inspected > dd.hiddenPolls {
			st.Options = dd.options
		}
		return decodeInto(st, res)

	case strings.Contains(expr, "webpilot:dropdown-apply"):
		var position int
		_ = json.Unmarshal(args[1], &position)
		dd, ok := f.dropdowns[xpath]
		if !ok || position < 0 || position >= len(dd.options) {
			return decodeInto(applyResult{Applied: false, Reason: "option disappeared"}, res)
		}
		dd.selected = position
		dd.applied++
		opt := dd.options[position]
		return decodeInto(applyResult{Applied: true, Value: opt.Value, Text: opt.Text}, res)

	case strings.Contains(expr, "webpilot:mutation-start"):
		f.watchesStarted++
		return decodeInto(true, res)

	case strings.Contains(expr, "webpilot:mutation-stop"):
		f.watchesStopped++
		return decodeInto(f.mutation, res)

	case strings.Contains(expr, "webpilot:scroll"):
		if xpath != "" {
			return decodeInto(scrollOutcome{Found: true, ScrollY: f.scrollY}, res)
		}
		if f.noDocument {
			return decodeInto(scrollOutcome{}, res)
		}
		var direction string
		_ = json.Unmarshal(args[1], &direction)
		before := f.scrollY
		if direction == "up" {
			f.scrollY -= 800
			if f.scrollY < 0 {
				f.scrollY = 0
			}
		} else {
			f.scrollY += 800
		}
		return decodeInto(scrollOutcome{Found: true, ScrollY: f.scrollY, Moved: before != f.scrollY}, res)
	}
	return fmt.Errorf("fake page cannot evaluate %.40q", expr)
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	f.url = url
	return nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) Title(context.Context) (string, error) { return "fake", nil }

func (f *fakePage) Screenshot(context.Context) ([]byte, error) { return f.screenshot, nil }

func (f *fakePage) Tabs(context.Context) ([]schemas.TabInfo, error) { return nil, nil }

func (f *fakePage) ClickXPath(ctx context.Context, xpath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clickErr != nil {
		return f.clickErr
	}
	f.clicks = append(f.clicks, xpath)
	if to, ok := f.clickNavigates[xpath]; ok {
		f.url = to
	}
	return nil
}

func (f *fakePage) FillXPath(ctx context.Context, xpath, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[xpath] = value
	return nil
}

func (f *fakePage) HTML(context.Context) (string, error) { return f.html, nil }

// mutated reports whether any handler changed page state.
func (f *fakePage) mutated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clicks) > 0 || len(f.fills) > 0 || len(f.navigations) > 0 {
		return true
	}
	for _, dd := range f.dropdowns {
		if dd.applied > 0 {
			return true
		}
	}
	return false
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxActionsPerStep:    5,
		DropdownWaitTimeout:  200 * time.Millisecond,
		DropdownPollInterval: 10 * time.Millisecond,
		MutationFilter: config.MutationFilterConfig{
			MinTextLength:  1,
			IgnoreTags:     []string{"SCRIPT", "STYLE"},
			RequireVisible: true,
		},
	}
}

func el(index int, tag, text string, attrs map[string]string) schemas.DOMElement {
	return schemas.DOMElement{
		Index:      index,
		TagName:    tag,
		Text:       text,
		Attributes: attrs,
		XPath:      fmt.Sprintf("/html[1]/body[1]/%s[%d]", strings.ToLower(tag), index),
		IsVisible:  true,
		InViewport: true,
	}
}

func snapshotOf(url string, elements ...schemas.DOMElement) *schemas.BrowserStateSnapshot {
	return schemas.NewBrowserStateSnapshot(schemas.SnapshotParams{URL: url, Elements: elements})
}

func command(t interface{ Fatalf(string, ...interface{}) }, raw string) Command {
	var entry map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("bad test entry %s: %v", raw, err)
	}
	cmd, err := ParseCommand(entry)
	if err != nil {
		t.Fatalf("ParseCommand(%s): %v", raw, err)
	}
	return cmd
}

func cities() []Option {
	return []Option{
		{ID: "city-tokyo", Text: "Tokyo", Value: "tk", Position: 0},
		{ID: "city-osaka", Text: "Osaka", Value: "os", Position: 1},
		{ID: "city-kyoto", Text: "Kyoto", Value: "ky", Position: 2},
	}
}
