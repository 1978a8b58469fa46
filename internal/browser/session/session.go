// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	// elementActionTimeout bounds each scroll/wait/click sub-step of an interaction.
	elementActionTimeout = 10 * time.Second
	defaultNavTimeout    = 30 * time.Second
)

// Session is one chromedp-driven tab. It implements Page.
type Session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     config.BrowserConfig
	logger  *zap.Logger
	monitor *NetworkMonitor

	closeOnce sync.Once
}

var _ Page = (*Session)(nil)
var _ ActionExecutor = (*Session)(nil)

func newSession(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		ctx:     tabCtx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  logger,
		monitor: NewNetworkMonitor(logger),
	}
}

// RunActions runs chromedp actions on the tab, bounded by both the caller's
// context and the session lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		// Report the caller's cancellation rather than the derived context error.
		return ctx.Err()
	}
	return err
}

// Navigate loads url, then waits for the network to settle (bounded by the
// idle window and hard cap) and finally the minimum page-load wait.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigation to '%s' failed: %w", url, err)
	}
	return s.Settle(ctx)
}

// Settle waits for network quiet and the minimum page-load wait. Actions that
// may trigger navigation call it after they run.
func (s *Session) Settle(ctx context.Context) error {
	if err := s.monitor.WaitIdle(ctx, s.cfg.NetworkIdleWindow, s.cfg.NetworkIdleHardCap); err != nil {
		return err
	}
	if s.cfg.MinPageLoadWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.MinPageLoadWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// Evaluate runs expression in the page, awaiting promises.
func (s *Session) Evaluate(ctx context.Context, expression string, res interface{}) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	return s.RunActions(ctx, chromedp.Evaluate(expression, res, awaitPromise))
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// Tabs lists the page targets of the browser.
func (s *Session) Tabs(ctx context.Context) ([]schemas.TabInfo, error) {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	targets, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	tabs := make([]schemas.TabInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		tabs = append(tabs, schemas.TabInfo{ID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	return tabs, nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.RunActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read document html: %w", err)
	}
	return html, nil
}

// ClickXPath scrolls the element into view, waits for it to be visible and clicks it.
func (s *Session) ClickXPath(ctx context.Context, xpath string) error {
	if err := s.prepareElement(ctx, xpath); err != nil {
		return err
	}
	if err := s.runBounded(ctx, chromedp.Click(xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("failed to click '%s': %w", xpath, err)
	}
	return nil
}

// FillXPath clears the element and types value into it.
func (s *Session) FillXPath(ctx context.Context, xpath, value string) error {
	if err := s.prepareElement(ctx, xpath); err != nil {
		return err
	}
	err := s.runBounded(ctx,
		chromedp.Clear(xpath, chromedp.BySearch),
		chromedp.SendKeys(xpath, value, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("failed to type into '%s': %w", xpath, err)
	}
	return nil
}

func (s *Session) prepareElement(ctx context.Context, xpath string) error {
	if err := s.runBounded(ctx, chromedp.ScrollIntoView(xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("failed to scroll '%s' into view: %w", xpath, err)
	}
	if err := s.runBounded(ctx, chromedp.WaitVisible(xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("element '%s' never became visible: %w", xpath, err)
	}
	return nil
}

func (s *Session) runBounded(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, elementActionTimeout)
	defer cancel()
	err := s.RunActions(opCtx, actions...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", elementActionTimeout, err)
	}
	return err
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(Detach(ctx), 5*time.Second)
		defer cancel()
		runCtx, stop := CombineContext(s.ctx, closeCtx)
		if err := chromedp.Cancel(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("Graceful browser shutdown failed.", zap.Error(err))
		}
		stop()
		s.cancel()
		s.logger.Info("Browser closed.")
	})
	return nil
}
