// internal/browser/actions/executor.go
package actions

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

// handler runs one action kind. It returns the result to report and any error;
// the executor records the error text on the result.
type handler func(ctx context.Context, e *env, cmd Command) (schemas.ActionResult, error)

// env is what a handler may touch while it runs.
type env struct {
	page    session.Page
	snap    *schemas.BrowserStateSnapshot
	element schemas.DOMElement
	cfg     config.AgentConfig
	logger  *zap.Logger
}

// settler is implemented by pages that can wait for network quiet after an
// action that may have started a navigation.
type settler interface {
	Settle(ctx context.Context) error
}

func (e *env) settle(ctx context.Context) error {
	if s, ok := e.page.(settler); ok {
		return s.Settle(ctx)
	}
	return nil
}

// Executor applies commands to a page against the current snapshot.
type Executor struct {
	page    session.Page
	cfg     config.AgentConfig
	watcher *MutationWatcher
	logger  *zap.Logger
}

// NewExecutor creates an action executor for page.
func NewExecutor(page session.Page, cfg config.AgentConfig, logger *zap.Logger) *Executor {
	log := logger.Named("actions")
	return &Executor{
		page:    page,
		cfg:     cfg,
		watcher: NewMutationWatcher(page, log),
		logger:  log,
	}
}

// Execute runs a single command. Index-based commands must resolve against
// snap; an unknown index fails with ElementNotFound before the page is touched.
func (x *Executor) Execute(ctx context.Context, cmd Command, snap *schemas.BrowserStateSnapshot) (schemas.ActionResult, error) {
	res, _, err := x.execute(ctx, cmd, snap)
	return res, err
}

func (x *Executor) execute(ctx context.Context, cmd Command, snap *schemas.BrowserStateSnapshot) (schemas.ActionResult, *MutationReport, error) {
	res := schemas.ActionResult{Action: cmd.Name()}
	if err := ctx.Err(); err != nil {
		return x.fail(res, taskerr.Cancelled(err))
	}
	spec, ok := Lookup(cmd.Kind)
	if !ok {
		return x.fail(res, taskerr.New(taskerr.CodeUnknownAction, "unknown action %q", cmd.Kind))
	}

	e := &env{page: x.page, snap: snap, cfg: x.cfg, logger: x.logger.With(zap.String("action", cmd.Name()))}
	var watch *Watch
	if spec.IndexBased {
		var target struct {
			Index int `json:"index"`
		}
		if err := cmd.Decode(&target); err != nil {
			return x.fail(res, err)
		}
		el, found := lookupElement(snap, target.Index)
		if !found {
			return x.fail(res, elementNotFound(target.Index))
		}
		e.element = el

		w, err := x.watcher.Start(ctx)
		if err != nil {
			e.logger.Debug("Running without mutation awareness.", zap.Error(err))
		} else {
			watch = w
		}
	}

	out, err := spec.handler(ctx, e, cmd)
	out.Action = cmd.Name()

	var report *MutationReport
	if watch != nil {
		r, werr := watch.Stop(ctx)
		if werr == nil {
			report = &r
			if advisory := Advisory(r.Significant(x.cfg.MutationFilter)); advisory != "" {
				out.ExtractedContent = joinLines(out.ExtractedContent, advisory)
				out.IncludeInMemory = true
			}
		}
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			err = taskerr.Cancelled(err)
		}
		failed, _, ferr := x.fail(out, err)
		return failed, report, ferr
	}
	e.logger.Debug("Action completed.")
	return out, report, nil
}

func (x *Executor) fail(res schemas.ActionResult, err error) (schemas.ActionResult, *MutationReport, error) {
	res.Error = err.Error()
	res.IncludeInMemory = true
	x.logger.Warn("Action failed.", zap.String("action", res.Action), zap.String("code", string(taskerr.CodeOf(err))), zap.Error(err))
	return res, nil, err
}

func lookupElement(snap *schemas.BrowserStateSnapshot, index int) (schemas.DOMElement, bool) {
	if snap == nil {
		return schemas.DOMElement{}, false
	}
	return snap.Element(index)
}

func elementNotFound(index int) error {
	return taskerr.New(taskerr.CodeElementNotFound,
		"element with index %d does not exist in the current page state; use an index from the latest element list", index)
}

func joinLines(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}

// BatchResult is the outcome of one navigator batch.
type BatchResult struct {
	Results []schemas.ActionResult
	// Skipped counts queued commands dropped because the page changed under them.
	Skipped int
	// Navigated is set when an action changed the page; the next step needs a fresh snapshot.
	Navigated bool
	// Done is set when a done action ran.
	Done bool
}

// ExecuteBatch runs commands strictly in order against snap. It stops at the
// first error, after a done action, or when an action navigates, in which case
// the remaining commands are skipped because their indices are stale.
func (x *Executor) ExecuteBatch(ctx context.Context, cmds []Command, snap *schemas.BrowserStateSnapshot) (BatchResult, error) {
	var br BatchResult
	if limit := x.cfg.MaxActionsPerStep; limit > 0 && len(cmds) > limit {
		x.logger.Warn("Navigator exceeded the per-step action limit; truncating.",
			zap.Int("requested", len(cmds)), zap.Int("limit", limit))
		br.Skipped = len(cmds) - limit
		cmds = cmds[:limit]
	}

	pageScrolled := false
	for i, cmd := range cmds {
		if cmd.Kind == KindScroll && isPageScroll(cmd) {
			if pageScrolled {
				br.Results = append(br.Results, schemas.ActionResult{
					Action:           cmd.Name(),
					ExtractedContent: "Skipped: scrolling is limited to one page per step.",
					IncludeInMemory:  true,
				})
				continue
			}
			pageScrolled = true
		}

		before, urlErr := x.page.CurrentURL(ctx)
		res, report, err := x.execute(ctx, cmd, snap)
		if err != nil {
			br.Results = append(br.Results, res)
			return br, err
		}

		navigated := false
		if after, err := x.page.CurrentURL(ctx); err == nil && urlErr == nil && after != before {
			navigated = true
		}
		if report != nil && (report.PageReplaced() || report.Burst()) {
			navigated = true
		}
		res.Navigated = navigated
		br.Results = append(br.Results, res)

		if res.IsDone {
			br.Done = true
			br.Skipped += len(cmds) - i - 1
			return br, nil
		}
		if navigated {
			br.Navigated = true
			if remaining := len(cmds) - i - 1; remaining > 0 {
				br.Skipped += remaining
				x.logger.Info("Page changed; dropping the rest of the batch.",
					zap.String("after", cmd.Name()), zap.Int("skipped", remaining))
			}
			return br, nil
		}
	}
	return br, nil
}

func isPageScroll(cmd Command) bool {
	var args ScrollArgs
	if err := cmd.Decode(&args); err != nil {
		return false
	}
	return args.Index == nil
}
