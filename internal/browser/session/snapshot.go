// internal/browser/session/snapshot.go
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

var errPageLoading = errors.New("document is still loading")

// CaptureOptions select the optional parts of a snapshot.
type CaptureOptions struct {
	// IncludeScreenshot attaches a PNG of the viewport. Only agents running with vision need it.
	IncludeScreenshot bool
}

// scanResult mirrors the object returned by domScanScript.
type scanResult struct {
	ReadyState  string               `json:"readyState"`
	Elements    []schemas.DOMElement `json:"elements"`
	PixelsAbove int                  `json:"pixelsAbove"`
	PixelsBelow int                  `json:"pixelsBelow"`
}

// Builder captures BrowserStateSnapshots of one page. It remembers the element
// fingerprints of its last capture so elements that appeared since then on the
// same URL are marked new.
type Builder struct {
	page   Page
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	prevURL  string
	previous map[string]struct{}
}

// NewBuilder creates a snapshot builder for page.
func NewBuilder(page Page, cfg config.BrowserConfig, logger *zap.Logger) *Builder {
	return &Builder{
		page:   page,
		cfg:    cfg,
		logger: logger.Named("snapshot"),
	}
}

// Capture builds a fresh snapshot. A page that is mid-navigation or detached
// is retried a bounded number of times before failing with SnapshotUnavailable.
func (b *Builder) Capture(ctx context.Context, opts CaptureOptions) (*schemas.BrowserStateSnapshot, error) {
	attempts := b.cfg.SnapshotRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, taskerr.Cancelled(err)
		}
		snap, err := b.captureOnce(ctx, opts)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, taskerr.Cancelled(ctx.Err())
		}
		lastErr = err
		b.logger.Debug("Snapshot attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(b.cfg.SnapshotRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, taskerr.Cancelled(ctx.Err())
		case <-t.C:
		}
	}
	return nil, taskerr.Wrap(taskerr.CodeSnapshotUnavailable, lastErr,
		"page state unavailable after %d attempts", attempts)
}

// Forget drops the remembered fingerprints; the next capture marks nothing new.
func (b *Builder) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prevURL = ""
	b.previous = nil
}

func (b *Builder) captureOnce(ctx context.Context, opts CaptureOptions) (*schemas.BrowserStateSnapshot, error) {
	url, err := b.page.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}

	var scan scanResult
	expr := fmt.Sprintf("(%s)(%d)", domScanScript, b.cfg.ViewportExpansion)
	if err := b.page.Evaluate(ctx, expr, &scan); err != nil {
		return nil, fmt.Errorf("dom scan failed: %w", err)
	}
	if scan.ReadyState == "loading" {
		return nil, errPageLoading
	}

	title, err := b.page.Title(ctx)
	if err != nil {
		return nil, err
	}

	tabs, err := b.page.Tabs(ctx)
	if err != nil {
		b.logger.Warn("Could not list tabs.", zap.Error(err))
		tabs = []schemas.TabInfo{{URL: url, Title: title}}
	}

	var screenshot string
	if opts.IncludeScreenshot {
		png, err := b.page.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		screenshot = base64.StdEncoding.EncodeToString(png)
	}

	elements := b.index(url, scan.Elements)
	return schemas.NewBrowserStateSnapshot(schemas.SnapshotParams{
		URL:         url,
		Title:       title,
		Tabs:        tabs,
		Elements:    elements,
		Screenshot:  screenshot,
		PixelsAbove: scan.PixelsAbove,
		PixelsBelow: scan.PixelsBelow,
		CapturedAt:  time.Now(),
	}), nil
}

// addressable reports whether xpath is an absolute path in the top document.
// Elements without one could not be targeted by an action.
func addressable(xpath string) bool {
	return strings.HasPrefix(xpath, "/html[")
}

// index assigns 1-based indices in document order, fingerprints the elements
// and marks those unseen in the previous capture of the same URL.
func (b *Builder) index(url string, raw []schemas.DOMElement) []schemas.DOMElement {
	b.mu.Lock()
	defer b.mu.Unlock()

	compare := b.previous != nil && b.prevURL == url
	seen := make(map[string]struct{}, len(raw))
	out := make([]schemas.DOMElement, 0, len(raw))
	for _, el := range raw {
		if !el.IsVisible || !el.InViewport || !addressable(el.XPath) {
			continue
		}
		el.Index = len(out) + 1
		el.Fingerprint = Fingerprint(el)
		if compare {
			_, existed := b.previous[el.Fingerprint]
			el.IsNew = !existed
		}
		seen[el.Fingerprint] = struct{}{}
		out = append(out, el)
	}
	b.prevURL = url
	b.previous = seen
	return out
}
