package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
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

const metricsNamespace = "webpilot"

// newRunComponents is swapped out in tests to run without a browser or a model.
var newRunComponents = initializeRunComponents

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Completes a task in the browser and prints the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return errors.New("task cannot be empty")
			}
			followUp, _ := cmd.Flags().GetBool("follow-up")

			components, err := newRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown(ctx)
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown(ctx)

			exec, err := agent.NewExecutor(schemas.Task{Text: task}, cfg.Agent(), components.Deps, logger,
				agent.WithEventSink(components.Bus, components.Metrics))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			outcome, err := runTask(ctx, out, exec, components.Bus)
			if err != nil {
				return err
			}

			if followUp {
				if outcome, err = followUpLoop(ctx, cmd.InOrStdin(), out, exec, components.Bus, outcome); err != nil {
					return err
				}
			}
			return outcomeError(outcome)
		},
	}

	runCmd.Flags().Int("max-steps", 100, "Maximum navigator steps. (Overrides config/env)")
	runCmd.Flags().Bool("vision", false, "Attach screenshots to navigator and validator calls. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().String("language", "", "Answer language (en, ja, ko, zh, ru, ar). Detected from the task when unset.")
	runCmd.Flags().Bool("follow-up", false, "After the task, read follow-up tasks from stdin until EOF or 'exit'.")
	return runCmd
}

// runComponents holds the services one run needs.
type runComponents struct {
	Deps    agent.Dependencies
	Bus     *agent.EventBus
	Metrics *observability.MetricsSink

	session       *session.Session
	dbPool        *pgxpool.Pool
	metricsServer *http.Server
}

// Shutdown releases every initialized component.
func (rc *runComponents) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(session.Detach(ctx), 10*time.Second)
	defer cancel()
	logger := observability.GetLogger()

	if rc.Bus != nil {
		rc.Bus.Shutdown()
	}
	if rc.metricsServer != nil {
		if err := rc.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during metrics server shutdown", zap.Error(err))
		}
	}
	if rc.session != nil {
		if err := rc.session.Close(shutdownCtx); err != nil {
			logger.Warn("Error during browser shutdown", zap.Error(err))
		}
	}
	if rc.dbPool != nil {
		rc.dbPool.Close()
	}
}

// initializeRunComponents handles dependency injection: the token ledger, one
// invoker per agent role, the browser session with its snapshot builder and
// action executor, and the event sinks.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Token ledger
	var pool tokens.DBPool
	if cfg.Tokens().Backend == "postgres" {
		dbPool, err := pgxpool.New(ctx, cfg.Tokens().DatabaseURL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.dbPool = dbPool
		pool = dbPool
	}
	ledger, err := tokens.NewLedger(ctx, cfg.Tokens(), pool, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize token ledger: %w", err)
	}

	// 2. Models
	roles, err := llmclient.NewRoles(ctx, cfg.LLM(), ledger, logger)
	if err != nil {
		return components, err
	}

	// 3. Browser
	sess, err := session.Launch(ctx, cfg.Browser(), logger)
	if err != nil {
		return components, err
	}
	components.session = sess

	components.Deps = agent.Dependencies{
		Planner:   roles.Planner,
		Navigator: roles.Navigator,
		Validator: roles.Validator,
		Browser:   session.NewBuilder(sess, cfg.Browser(), logger),
		Runner:    actions.NewExecutor(sess, cfg.Agent(), logger),
		Counter:   tokens.NewEstimator(tokens.DefaultEncoding, logger),
	}

	// 4. Events and metrics
	components.Bus = agent.NewEventBus(logger, 256)
	registry := prometheus.NewRegistry()
	components.Metrics = observability.NewMetricsSink(registry, metricsNamespace)
	if cfg.Metrics().Enabled {
		components.metricsServer = serveMetrics(cfg.Metrics().ListenAddr, registry, logger)
	}
	return components, nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// serveMetrics exposes reg on /metrics in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	srv := &http.Server{Addr: addr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

// runTask runs exec once, printing progress events while it works and the
// outcome when it ends.
func runTask(ctx context.Context, out io.Writer, exec *agent.Executor, bus *agent.EventBus) (schemas.TaskOutcome, error) {
	events, unsubscribe := bus.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	outcome, err := exec.Run(ctx)
	// Events are emitted synchronously by Run; closing the channel lets the
	// printer drain what is buffered before the outcome is written.
	unsubscribe()
	<-printed
	if err != nil {
		return outcome, err
	}
	printOutcome(out, outcome)
	return outcome, nil
}

// followUpLoop reads one follow-up task per line and runs each in the same
// conversation. It stops at EOF, on "exit" or "quit", or when ctx ends.
func followUpLoop(ctx context.Context, in io.Reader, out io.Writer, exec *agent.Executor, bus *agent.EventBus, last schemas.TaskOutcome) (schemas.TaskOutcome, error) {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(out, "follow-up > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := exec.AddFollowUpTask(line); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		outcome, err := runTask(ctx, out, exec, bus)
		if err != nil {
			return last, err
		}
		last = outcome
	}
	if err := scanner.Err(); err != nil {
		return last, fmt.Errorf("error reading follow-up tasks: %w", err)
	}
	return last, nil
}

func printEvent(w io.Writer, ev schemas.ExecutionEvent) {
	switch ev.State {
	case schemas.TaskStart, schemas.TaskPause, schemas.TaskResume:
		fmt.Fprintln(w, ev.Details)
	case schemas.StepOK, schemas.StepFail, schemas.ActFail:
		fmt.Fprintf(w, "  [%s %d/%d] %s: %s\n", ev.Actor, ev.Step, ev.MaxSteps, ev.State, firstLine(ev.Details))
	}
}

func printOutcome(w io.Writer, o schemas.TaskOutcome) {
	fmt.Fprintf(w, "\nStatus: %s\n", o.Status)
	if o.Answer != "" {
		fmt.Fprintf(w, "Answer: %s\n", o.Answer)
	}
	if o.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", o.Error)
	}
	fmt.Fprintf(w, "Steps: %d, duration: %s\n", o.Steps, o.Duration.Round(time.Millisecond))
}

// outcomeError turns the final outcome into the command's result. A cancelled
// task maps to context.Canceled so main exits cleanly.
func outcomeError(o schemas.TaskOutcome) error {
	switch o.Status {
	case schemas.TaskStatusDone:
		return nil
	case schemas.TaskStatusCancelled:
		return fmt.Errorf("task %s cancelled: %w", o.TaskID, context.Canceled)
	default:
		if o.Error != "" {
			return fmt.Errorf("task %s failed: %s", o.TaskID, o.Error)
		}
		return fmt.Errorf("task %s did not complete within its limits", o.TaskID)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
