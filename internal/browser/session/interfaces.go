package session

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// ActionExecutor runs raw chromedp actions against the session's tab.
type ActionExecutor interface {
	RunActions(ctx context.Context, actions ...chromedp.Action) error
}

// Page is the view of one browser tab used by the snapshot builder and the
// action handlers. Session is the chromedp implementation; tests substitute fakes.
type Page interface {
	// Evaluate runs a JavaScript expression, awaiting a returned promise, and
	// decodes the result into res (nil discards it).
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Screenshot captures the visible viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Tabs(ctx context.Context) ([]schemas.TabInfo, error)
	ClickXPath(ctx context.Context, xpath string) error
	FillXPath(ctx context.Context, xpath, value string) error
	// HTML returns the outer HTML of the document element.
	HTML(ctx context.Context) (string, error)
}
