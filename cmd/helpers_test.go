package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

// resetForTest isolates a test from the developer's config files, environment
// and the package globals the root command writes to.
func resetForTest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("WEBPILOT_LOGGER_LEVEL", "error")
	homedir.DisableCache = true

	cfgFile = ""
	original := newRunComponents
	t.Cleanup(func() {
		newRunComponents = original
		cfgFile = ""
		homedir.DisableCache = false
		observability.ResetForTest()
	})
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// fakeInvoker decodes queued JSON answers into the caller's target.
type fakeInvoker struct {
	model string

	mu      sync.Mutex
	answers []string
	err     error
	calls   int
}

func (f *fakeInvoker) Model() string { return f.model }

func (f *fakeInvoker) Invoke(ctx context.Context, call llmclient.Call, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.err != nil {
		return f.err
	}
	if len(f.answers) == 0 {
		return errors.New(f.model + ": no answer left")
	}
	answer := f.answers[0]
	f.answers = f.answers[1:]
	return json.Unmarshal([]byte(answer), out)
}

func nonWebPlan(answer string) string {
	b, _ := json.Marshal(schemas.Plan{Done: true, NextSteps: answer, WebTask: false})
	return string(b)
}

type staticBrowser struct{}

func (staticBrowser) Capture(ctx context.Context, _ session.CaptureOptions) (*schemas.BrowserStateSnapshot, error) {
	return schemas.NewBrowserStateSnapshot(schemas.SnapshotParams{URL: "about:blank", Title: "New Tab"}), ctx.Err()
}

func (staticBrowser) Forget() {}

type noopRunner struct{}

func (noopRunner) ExecuteBatch(ctx context.Context, cmds []actions.Command, _ *schemas.BrowserStateSnapshot) (actions.BatchResult, error) {
	return actions.BatchResult{}, ctx.Err()
}

type charCounter struct{}

func (charCounter) Count(text string) int { return tokens.CharEstimate(text) }

// stubComponents swaps in fake models and a fake browser and records the
// configuration the command resolved.
type stubComponents struct {
	planner   *fakeInvoker
	navigator *fakeInvoker
	validator *fakeInvoker
	registry  *prometheus.Registry

	cfg *config.Config
	err error
}

func installStub(t *testing.T) *stubComponents {
	t.Helper()
	stub := &stubComponents{
		planner:   &fakeInvoker{model: "planner"},
		navigator: &fakeInvoker{model: "navigator"},
		validator: &fakeInvoker{model: "validator"},
		registry:  prometheus.NewRegistry(),
	}
	newRunComponents = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
		stub.cfg = cfg
		if stub.err != nil {
			return nil, stub.err
		}
		return &runComponents{
			Deps: agent.Dependencies{
				Planner:   stub.planner,
				Navigator: stub.navigator,
				Validator: stub.validator,
				Browser:   staticBrowser{},
				Runner:    noopRunner{},
				Counter:   charCounter{},
			},
			Bus:     agent.NewEventBus(logger, 64),
			Metrics: observability.NewMetricsSink(stub.registry, metricsNamespace),
		}, nil
	}
	return stub
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
