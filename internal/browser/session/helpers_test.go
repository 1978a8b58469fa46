package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// fakePage answers Page calls from canned data. scans are returned in order by
// successive DOM scan evaluations; the last one repeats.
type fakePage struct {
	mu         sync.Mutex
	url        string
	title      string
	tabs       []schemas.TabInfo
	tabsErr    error
	scans      []scanResult
	scanErrs   []error
	scanCalls  int
	screenshot []byte
	html       string
}

var _ Page = (*fakePage)(nil)

func (f *fakePage) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(expression, "INTERACTIVE_TAGS") {
		return errors.New("unexpected expression")
	}
	call := f.scanCalls
	f.scanCalls++
	if call < len(f.scanErrs) && f.scanErrs[call] != nil {
		return f.scanErrs[call]
	}
	if len(f.scans) == 0 {
		return errors.New("no scan configured")
	}
	scan := f.scans[len(f.scans)-1]
	if call < len(f.scans) {
		scan = f.scans[call]
	}
	b, err := json.Marshal(scan)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakePage) Title(context.Context) (string, error) { return f.title, nil }

func (f *fakePage) Screenshot(context.Context) ([]byte, error) { return f.screenshot, nil }

func (f *fakePage) Tabs(context.Context) ([]schemas.TabInfo, error) { return f.tabs, f.tabsErr }

func (f *fakePage) ClickXPath(context.Context, string) error { return nil }

func (f *fakePage) FillXPath(context.Context, string, string) error { return nil }

func (f *fakePage) HTML(context.Context) (string, error) { return f.html, nil }

func element(tag, text string, attrs map[string]string) schemas.DOMElement {
	return schemas.DOMElement{
		TagName:    tag,
		Text:       text,
		Attributes: attrs,
		XPath:      "/html[1]/body[1]/" + strings.ToLower(tag) + "[1]",
		IsVisible:  true,
		InViewport: true,
	}
}
