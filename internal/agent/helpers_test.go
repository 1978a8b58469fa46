package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

// -- Model provider --

type reply struct {
	text  string
	err   error
	block bool
}

// scriptedProvider answers from a queue, then from fallback when set.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	replies  []reply
	fallback *reply
	requests []llmclient.Request
	started  chan struct{}
}

var _ llmclient.Provider = (*scriptedProvider)(nil)

func newProvider(name string, replies ...reply) *scriptedProvider {
	return &scriptedProvider{name: name, replies: replies, started: make(chan struct{}, 1)}
}

func (p *scriptedProvider) always(r reply) *scriptedProvider {
	p.fallback = &r
	return p
}

func (p *scriptedProvider) Model() string                  { return p.name }
func (p *scriptedProvider) SupportsStructuredOutput() bool { return true }

func (p *scriptedProvider) Generate(ctx context.Context, req llmclient.Request) (llmclient.Response, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var r reply
	switch {
	case len(p.replies) > 0:
		r = p.replies[0]
		p.replies = p.replies[1:]
	case p.fallback != nil:
		r = *p.fallback
	default:
		p.mu.Unlock()
		return llmclient.Response{}, fmt.Errorf("%s: no scripted reply left", p.name)
	}
	p.mu.Unlock()

	if r.block {
		select {
		case p.started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return llmclient.Response{}, ctx.Err()
	}
	if r.err != nil {
		return llmclient.Response{}, r.err
	}
	return llmclient.Response{Text: r.text, Usage: llmclient.Usage{TotalTokens: 42}}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) llmclient.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func planReply(webTask, done bool, nextSteps string) reply {
	return reply{text: mustJSON(schemas.Plan{
		Observation: "The browser shows a blank page.",
		Challenges:  "None yet.",
		Done:        done,
		NextSteps:   nextSteps,
		Reasoning:   "Follow the task.",
		WebTask:     webTask,
	})}
}

// navReply builds a navigator answer from raw action entries such as `{"click":{"index":1}}`.
func navReply(goal string, entries ...string) reply {
	return reply{text: fmt.Sprintf(
		`{"current_state":{"evaluation_previous_goal":"Unknown","memory":"","next_goal":%q},"action":[%s]}`,
		goal, joinEntries(entries))}
}

func joinEntries(entries []string) string {
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out
}

func verdictReply(valid bool, reason, answer string) reply {
	return reply{text: mustJSON(schemas.ValidationResult{IsValid: valid, Reason: reason, Answer: answer})}
}

// -- Browser --

type fakeBrowser struct {
	mu       sync.Mutex
	current  *schemas.BrowserStateSnapshot
	errs     []error
	captures int
	forgets  int
	opts     []session.CaptureOptions
}

func newFakeBrowser(snap *schemas.BrowserStateSnapshot) *fakeBrowser {
	return &fakeBrowser{current: snap}
}

func (b *fakeBrowser) Capture(ctx context.Context, opts session.CaptureOptions) (*schemas.BrowserStateSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, taskerr.Cancelled(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captures++
	b.opts = append(b.opts, opts)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return b.current, nil
}

func (b *fakeBrowser) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forgets++
}

func (b *fakeBrowser) set(snap *schemas.BrowserStateSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = snap
}

// -- Action runner --

type batchStep struct {
	result actions.BatchResult
	err    error
	// then replaces the page the browser shows after the batch.
	then *schemas.BrowserStateSnapshot
}

type fakeRunner struct {
	browser *fakeBrowser

	mu       sync.Mutex
	steps    []batchStep
	fallback *batchStep
	batches  [][]actions.Command
	against  []*schemas.BrowserStateSnapshot
}

func (r *fakeRunner) ExecuteBatch(ctx context.Context, cmds []actions.Command, snap *schemas.BrowserStateSnapshot) (actions.BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, cmds)
	r.against = append(r.against, snap)
	if err := ctx.Err(); err != nil {
		return actions.BatchResult{}, taskerr.Cancelled(err)
	}

	step := batchStep{result: okResults(cmds)}
	switch {
	case len(r.steps) > 0:
		step = r.steps[0]
		r.steps = r.steps[1:]
	case r.fallback != nil:
		step = *r.fallback
	}
	if step.then != nil && r.browser != nil {
		r.browser.set(step.then)
	}
	return step.result, step.err
}

func (r *fakeRunner) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func okResults(cmds []actions.Command) actions.BatchResult {
	var br actions.BatchResult
	for _, c := range cmds {
		br.Results = append(br.Results, schemas.ActionResult{Action: c.Name(), ExtractedContent: c.Name() + " ok"})
	}
	return br
}

func elementNotFound(index int) batchStep {
	err := taskerr.New(taskerr.CodeElementNotFound, "element %d does not exist in the current page state", index)
	return batchStep{
		result: actions.BatchResult{Results: []schemas.ActionResult{{Action: "click", Error: err.Error(), IncludeInMemory: true}}},
		err:    err,
	}
}

// -- Events --

type recordingSink struct {
	mu     sync.Mutex
	events []schemas.ExecutionEvent
}

func (s *recordingSink) Emit(ev schemas.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []schemas.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.ExecutionEvent(nil), s.events...)
}

func (s *recordingSink) terminal() []schemas.ExecutionEvent {
	var out []schemas.ExecutionEvent
	for _, ev := range s.all() {
		if ev.State.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) steps(actor schemas.Actor) []schemas.ExecutionEvent {
	var out []schemas.ExecutionEvent
	for _, ev := range s.all() {
		if ev.Actor == actor && (ev.State == schemas.StepOK || ev.State == schemas.StepFail) {
			out = append(out, ev)
		}
	}
	return out
}

// -- Harness --

type charCounter struct{}

func (charCounter) Count(text string) int { return tokens.CharEstimate(text) }

type harness struct {
	planner   *scriptedProvider
	navigator *scriptedProvider
	validator *scriptedProvider
	ledger    *tokens.MemoryLedger
	browser   *fakeBrowser
	runner    *fakeRunner
	sink      *recordingSink
	exec      *Executor
}

func testAgentConfig() config.AgentConfig {
	cfg := config.NewDefaultConfig().Agent()
	cfg.MaxSteps = 10
	cfg.MaxFailures = 3
	cfg.PlanningInterval = 3
	cfg.MaxActionsPerStep = 5
	cfg.Language = ""
	return cfg
}

func blankPage() *schemas.BrowserStateSnapshot {
	return schemas.NewBrowserStateSnapshot(schemas.SnapshotParams{URL: "about:blank", Title: "New Tab"})
}

func newHarness(t testing.TB, cfg config.AgentConfig, task string, logger *zap.Logger) *harness {
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	h := &harness{
		planner:   newProvider("planner-model"),
		navigator: newProvider("navigator-model"),
		validator: newProvider("validator-model"),
		ledger:    tokens.NewMemoryLedger(1000, tokens.CostTable{Default: 1}, logger),
		browser:   newFakeBrowser(blankPage()),
		sink:      &recordingSink{},
	}
	h.runner = &fakeRunner{browser: h.browser}

	exec, err := NewExecutor(schemas.Task{ID: "task-1", Text: task}, cfg, Dependencies{
		Planner:   llmclient.NewInvoker("planner-model", h.planner, h.ledger, 0, logger),
		Navigator: llmclient.NewInvoker("navigator-model", h.navigator, h.ledger, 0, logger),
		Validator: llmclient.NewInvoker("validator-model", h.validator, h.ledger, 0, logger),
		Browser:   h.browser,
		Runner:    h.runner,
		Counter:   charCounter{},
	}, logger, WithEventSink(h.sink))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	h.exec = exec
	return h
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
