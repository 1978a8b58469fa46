// internal/browser/actions/handlers.go
package actions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

const (
	defaultWaitSeconds = 3
	maxWaitSeconds     = 10
	maxExtractRunes    = 8000
)

// -- Action Handlers --

func handleClick(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	el := e.element
	if session.IsDisabled(el) {
		return schemas.ActionResult{}, fmt.Errorf("element %d is disabled", el.Index)
	}
	if strings.EqualFold(el.TagName, "SELECT") {
		return schemas.ActionResult{}, fmt.Errorf("element %d is a dropdown; use the select action", el.Index)
	}
	if err := e.page.ClickXPath(ctx, el.XPath); err != nil {
		return schemas.ActionResult{}, err
	}
	if err := e.settle(ctx); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		ExtractedContent: fmt.Sprintf("Clicked element %d %s", el.Index, describe(el)),
	}, nil
}

func handleFill(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	var args FillArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	el := e.element
	if session.IsDisabled(el) {
		return schemas.ActionResult{}, fmt.Errorf("element %d is disabled or read-only", el.Index)
	}
	if err := e.page.FillXPath(ctx, el.XPath, args.Value); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		ExtractedContent: fmt.Sprintf("Filled %q into element %d %s", args.Value, el.Index, describe(el)),
	}, nil
}

func handleSelect(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	var args SelectArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	if args.Text == "" && args.OptionIndex == nil {
		return schemas.ActionResult{}, taskerr.New(taskerr.CodeInvalidArguments, "select needs text or option_index")
	}
	applied, kind, err := selectOption(ctx, e, args)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	e.logger.Debug("Option selected.", zap.String("strategy", string(kind)), zap.String("value", applied.Value))
	if err := e.settle(ctx); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		ExtractedContent: fmt.Sprintf("Selected %q (value %q) in dropdown %d", applied.Text, applied.Value, e.element.Index),
		IncludeInMemory:  true,
	}, nil
}

type scrollOutcome struct {
	Found   bool    `json:"found"`
	ScrollY float64 `json:"scrollY"`
	Moved   bool    `json:"moved"`
}

func handleScroll(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	var args ScrollArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}

	xpath := ""
	if args.Index != nil {
		el, ok := lookupElement(e.snap, *args.Index)
		if !ok {
			return schemas.ActionResult{}, elementNotFound(*args.Index)
		}
		xpath = el.XPath
	}

	var out scrollOutcome
	if err := callScript(ctx, e.page, scrollScript, &out, xpath, args.Direction); err != nil {
		return schemas.ActionResult{}, fmt.Errorf("scroll failed: %w", err)
	}
	if !out.Found {
		if args.Index != nil {
			return schemas.ActionResult{}, elementNotFound(*args.Index)
		}
		return schemas.ActionResult{}, errors.New("scroll failed: the page has no scrollable document")
	}
	switch {
	case args.Index != nil:
		return schemas.ActionResult{ExtractedContent: fmt.Sprintf("Scrolled element %d into view", *args.Index)}, nil
	case !out.Moved:
		return schemas.ActionResult{ExtractedContent: fmt.Sprintf("Already at the %s of the page", edge(args.Direction))}, nil
	default:
		return schemas.ActionResult{ExtractedContent: fmt.Sprintf("Scrolled %s one page", args.Direction)}, nil
	}
}

func edge(direction string) string {
	if direction == "up" {
		return "top"
	}
	return "bottom"
}

func handleScreenshot(ctx context.Context, e *env, _ Command) (schemas.ActionResult, error) {
	png, err := e.page.Screenshot(ctx)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		ExtractedContent: "Captured a screenshot of the visible page.",
		Screenshot:       base64.StdEncoding.EncodeToString(png),
	}, nil
}

func handleNavigate(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	var args NavigateArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	target, err := normalizeURL(args.URL)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	if err := e.page.Navigate(ctx, target); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{ExtractedContent: "Navigated to " + target}, nil
}

// normalizeURL accepts absolute http(s) URLs and bare hosts such as "amazon.co.jp".
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", taskerr.New(taskerr.CodeInvalidArguments, "navigate needs a url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", taskerr.Wrap(taskerr.CodeInvalidArguments, err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", taskerr.New(taskerr.CodeInvalidArguments, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", taskerr.New(taskerr.CodeInvalidArguments, "url %q has no host", raw)
	}
	return u.String(), nil
}

func handleWait(ctx context.Context, _ *env, cmd Command) (schemas.ActionResult, error) {
	var args WaitArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	seconds := args.Seconds
	if seconds <= 0 {
		seconds = defaultWaitSeconds
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	t := time.NewTimer(time.Duration(seconds) * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return schemas.ActionResult{}, ctx.Err()
	case <-t.C:
	}
	return schemas.ActionResult{ExtractedContent: fmt.Sprintf("Waited %d seconds", seconds)}, nil
}

func handleExtract(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error) {
	var args ExtractArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	doc, err := e.page.HTML(ctx)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	text, err := session.ReadableText(doc, maxExtractRunes)
	if err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		ExtractedContent: fmt.Sprintf("Page text for %q:\n%s", args.Goal, text),
		IncludeInMemory:  true,
	}, nil
}

func handleDone(_ context.Context, _ *env, cmd Command) (schemas.ActionResult, error) {
	var args DoneArgs
	if err := cmd.Decode(&args); err != nil {
		return schemas.ActionResult{}, err
	}
	return schemas.ActionResult{
		IsDone:           true,
		ExtractedContent: args.Text,
		IncludeInMemory:  true,
	}, nil
}

// describe renders an element the way the element list does, without its index.
func describe(el schemas.DOMElement) string {
	tag := strings.ToLower(el.TagName)
	text := el.Text
	if text == "" {
		text = el.Attributes["aria-label"]
	}
	if text == "" {
		text = el.Attributes["placeholder"]
	}
	r := []rune(text)
	if len(r) > 60 {
		text = string(r[:60]) + "..."
	}
	return fmt.Sprintf("<%s>%s</%s>", tag, text, tag)
}
