// File: internal/agent/executor.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/locale"
	"github.com/xkilldash9x/webpilot/internal/observability"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

var (
	// ErrAlreadyRunning is returned when Run or AddFollowUpTask is called during a run.
	ErrAlreadyRunning = errors.New("executor is already running")
	// ErrCancelledByUser is the cancellation cause set by Cancel.
	ErrCancelledByUser = errors.New("cancelled by user")
)

// Dependencies are the collaborators an Executor drives.
type Dependencies struct {
	Planner   Invoker
	Navigator Invoker
	Validator Invoker
	Browser   StateCapturer
	Runner    ActionRunner
	// Counter sizes the message history. Defaults to a tiktoken estimator.
	Counter tokens.Counter
}

// Option configures an Executor.
type Option func(*Executor)

// WithEventSink adds sinks that receive every execution event.
func WithEventSink(sinks ...schemas.EventSink) Option {
	return func(e *Executor) { e.sink = append(e.sink, sinks...) }
}

// Executor runs one task as a sequential state machine over the planner,
// navigator and validator. It owns the AgentContext.
type Executor struct {
	cfg       config.AgentConfig
	planner   *Planner
	navigator *Navigator
	validator *Validator
	browser   StateCapturer
	runner    ActionRunner
	sink      multiSink
	logger    *zap.Logger
	ac        *AgentContext

	mu      sync.Mutex
	running bool
	cancel  context.CancelCauseFunc
	paused  bool
	resume  chan struct{}
}

// NewExecutor prepares a run of task. A task without an ID gets a fresh one.
func NewExecutor(task schemas.Task, cfg config.AgentConfig, deps Dependencies, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if strings.TrimSpace(task.Text) == "" {
		return nil, errors.New("task text cannot be empty")
	}
	if deps.Planner == nil || deps.Navigator == nil || deps.Validator == nil {
		return nil, errors.New("planner, navigator and validator invokers are required")
	}
	if deps.Browser == nil || deps.Runner == nil {
		return nil, errors.New("a state capturer and an action runner are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	logger = logger.Named("executor").With(zap.String("task_id", task.ID))
	counter := deps.Counter
	if counter == nil {
		counter = tokens.NewEstimator(tokens.DefaultEncoding, logger)
	}

	e := &Executor{
		cfg:       cfg,
		planner:   NewPlanner(deps.Planner, logger),
		navigator: NewNavigator(deps.Navigator, cfg.MaxActionsPerStep, logger),
		validator: NewValidator(deps.Validator, logger),
		browser:   deps.Browser,
		runner:    deps.Runner,
		sink:      multiSink{observability.NewLogSink(logger)},
		logger:    logger,
	}
	messages := NewMessageManager(counter, cfg.MaxInputTokens, logger)
	e.ac = NewAgentContext(task.ID, task, cfg, messages)
	messages.InitTaskMessages(e.navigator.SystemMessage(e.ac.Language), task)

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Task returns the task including its follow-up history.
func (e *Executor) Task() schemas.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ac.Task
}

// Cancel stops the current run. The run ends as CANCELLED at its next suspension point.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel(ErrCancelledByUser)
	}
}

// Pause makes the run wait before its next step until Resume or cancellation.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.resume = make(chan struct{})
}

// Resume releases a paused run.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.resume)
}

// AddFollowUpTask continues the conversation with a new task. The next Run
// works on it with the earlier tasks as context, and the planner decides
// web_task afresh.
func (e *Executor) AddFollowUpTask(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("follow-up task cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.ac.Task = e.ac.Task.WithFollowUp(text)
	e.ac.Messages.AddNewTask(text)
	e.planner.ResetWebTask()
	e.logger.Info("Follow-up task added.", zap.String("task", text), zap.Int("history", len(e.ac.Task.FollowUp)))
	return nil
}

// Run drives the task to DONE, FAILED or CANCELLED and emits exactly one
// terminal event. The returned error is only set when the run could not start.
func (e *Executor) Run(ctx context.Context) (schemas.TaskOutcome, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return schemas.TaskOutcome{}, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel(nil)
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	start := time.Now()
	e.ac.begin(runCtx)
	e.browser.Forget()
	e.logger.Info("Task started.", zap.String("task", e.ac.Task.Text), zap.String("language", string(e.ac.Language)))
	e.emit(schemas.ActorSystem, schemas.TaskStart, locale.Message(e.ac.Language, locale.MsgTaskStarted))

	end := e.loop(runCtx)
	return e.finish(end, time.Since(start)), nil
}

// ending describes how a run terminated.
type ending struct {
	status     schemas.TaskStatus
	message    string
	answer     string
	validation *schemas.ValidationResult
	err        error
}

// loop is the state machine. Every iteration either completes a navigator step,
// records a failure or terminates, so maxSteps and maxFailures bound it.
func (e *Executor) loop(ctx context.Context) ending {
	ac := e.ac
	replan := true

	for {
		if ctx.Err() != nil {
			return e.cancelled(ctx)
		}
		if err := e.waitIfPaused(ctx); err != nil {
			return e.cancelled(ctx)
		}
		if ac.ConsecutiveFailures >= e.cfg.MaxFailures {
			return e.failed(locale.Message(ac.Language, locale.MsgMaxFailures, ac.ConsecutiveFailures), nil)
		}
		if ac.Step >= e.cfg.MaxSteps {
			return e.failed(locale.Message(ac.Language, locale.MsgMaxSteps, e.cfg.MaxSteps), nil)
		}

		if err := e.refreshState(ctx); err != nil {
			if end, stop := e.handleError(ctx, schemas.ActorNavigator, err); stop {
				return end
			}
			replan = true
			continue
		}

		if replan || ac.Step%e.cfg.PlanningInterval == 0 {
			plan, err := e.runPlanner(ctx)
			if err != nil {
				if end, stop := e.handleError(ctx, schemas.ActorPlanner, err); stop {
					return end
				}
				replan = true
				continue
			}
			replan = false
			if plan.Done {
				if !plan.WebTask {
					return e.done(plan.NextSteps, nil)
				}
				if end, stop := e.runValidator(ctx); stop {
					return end
				}
				replan = true
				continue
			}
		}

		batch, err := e.runNavigator(ctx)
		if err != nil {
			if end, stop := e.handleError(ctx, schemas.ActorNavigator, err); stop {
				return end
			}
			replan = true
			continue
		}
		if batch.Done {
			if end, stop := e.runValidator(ctx); stop {
				return end
			}
			replan = true
		}
	}
}

func (e *Executor) refreshState(ctx context.Context) error {
	snap, err := e.browser.Capture(ctx, session.CaptureOptions{IncludeScreenshot: e.cfg.UseVision})
	if err != nil {
		return err
	}
	e.ac.State = snap
	return nil
}

func (e *Executor) runPlanner(ctx context.Context) (schemas.Plan, error) {
	e.emit(schemas.ActorPlanner, schemas.StepStart, "")
	plan, err := e.planner.Execute(ctx, e.ac)
	if err != nil {
		return plan, err
	}
	e.ac.Plan = &plan
	if raw, merr := json.Marshal(plan); merr == nil {
		e.ac.Messages.AddPlan(string(raw))
	}
	e.emit(schemas.ActorPlanner, schemas.StepOK, plan.NextSteps)
	return plan, nil
}

// runNavigator performs one navigator step: ask for a batch, then apply it
// against the current snapshot. Any step that is not cancelled counts toward
// maxSteps; only a step without errors resets the failure counter.
func (e *Executor) runNavigator(ctx context.Context) (actions.BatchResult, error) {
	ac := e.ac
	e.emit(schemas.ActorNavigator, schemas.StepStart, fmt.Sprintf("%d/%d", ac.Step+1, e.cfg.MaxSteps))

	step, err := e.navigator.Execute(ctx, ac)
	if err != nil {
		if !taskerr.IsCancelled(err) {
			ac.Step++
		}
		return actions.BatchResult{}, err
	}

	batch, err := e.runner.ExecuteBatch(ctx, step.Commands, ac.State)
	ac.LastResults = batch.Results
	ac.Messages.AddActionResults(batch.Results)
	for _, r := range batch.Results {
		if r.Error != "" {
			e.emit(schemas.ActorNavigator, schemas.ActFail, r.Action+": "+lastLine(r.Error))
			continue
		}
		e.emit(schemas.ActorNavigator, schemas.ActOK, r.Action)
		if r.IsDone {
			ac.FinalText = r.ExtractedContent
		}
	}
	if batch.Skipped > 0 {
		e.logger.Debug("Actions dropped after a page change.", zap.Int("skipped", batch.Skipped), zap.Bool("navigated", batch.Navigated))
	}

	if err != nil && taskerr.IsCancelled(err) {
		return batch, err
	}
	ac.Step++
	if err != nil {
		return batch, err
	}
	ac.ConsecutiveFailures = 0
	e.emit(schemas.ActorNavigator, schemas.StepOK, step.Output.CurrentState.NextGoal)
	return batch, nil
}

// runValidator judges the final state. A rejection counts as a failure and
// sends the run back to planning.
func (e *Executor) runValidator(ctx context.Context) (ending, bool) {
	ac := e.ac
	if err := e.refreshState(ctx); err != nil {
		if taskerr.IsCancelled(err) || ctx.Err() != nil {
			return e.cancelled(ctx), true
		}
		e.logger.Warn("Validating against the previous snapshot.", zap.Error(err))
	}

	e.emit(schemas.ActorValidator, schemas.StepStart, "")
	res, err := e.validator.Execute(ctx, ac)
	if err != nil {
		return e.handleError(ctx, schemas.ActorValidator, err)
	}
	ac.Validation = &res
	if res.IsValid {
		e.emit(schemas.ActorValidator, schemas.StepOK, res.Reason)
		return e.done(res.Answer, &res), true
	}

	ac.ConsecutiveFailures++
	ac.Messages.AddNote("The validator rejected the result: " + res.Reason)
	e.emit(schemas.ActorValidator, schemas.StepFail, res.Reason)
	return ending{}, false
}

// handleError applies the propagation policy. Cancellation and fatal errors
// stop the run; everything else is a failed step reported to the next plan.
func (e *Executor) handleError(ctx context.Context, actor schemas.Actor, err error) (ending, bool) {
	if taskerr.IsCancelled(err) || ctx.Err() != nil {
		return e.cancelled(ctx), true
	}
	if taskerr.IsFatal(err) {
		e.emit(actor, schemas.StepFail, err.Error())
		return e.failed(locale.Message(e.ac.Language, locale.MsgTaskFailed, err.Error()), err), true
	}

	e.ac.ConsecutiveFailures++
	e.ac.Messages.AddNote(fmt.Sprintf("The %s step failed (%s): %s", actor, taskerr.CodeOf(err), lastLine(err.Error())))
	e.logger.Warn("Step failed.",
		zap.String("actor", string(actor)),
		zap.Int("consecutive_failures", e.ac.ConsecutiveFailures),
		zap.Error(err))
	e.emit(actor, schemas.StepFail, err.Error())
	return ending{}, false
}

// waitIfPaused blocks while the executor is paused.
func (e *Executor) waitIfPaused(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	resume := e.resume
	e.mu.Unlock()

	e.emit(schemas.ActorSystem, schemas.TaskPause, locale.Message(e.ac.Language, locale.MsgTaskPaused))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resume:
	}
	e.emit(schemas.ActorSystem, schemas.TaskResume, locale.Message(e.ac.Language, locale.MsgTaskResumed))
	return nil
}

func (e *Executor) done(answer string, v *schemas.ValidationResult) ending {
	return ending{
		status:     schemas.TaskStatusDone,
		message:    locale.Message(e.ac.Language, locale.MsgTaskDone),
		answer:     answer,
		validation: v,
	}
}

func (e *Executor) failed(message string, err error) ending {
	return ending{
		status:     schemas.TaskStatusFailed,
		message:    message,
		answer:     e.ac.partialAnswer(),
		validation: e.ac.Validation,
		err:        err,
	}
}

func (e *Executor) cancelled(ctx context.Context) ending {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return ending{
		status:  schemas.TaskStatusCancelled,
		message: locale.Message(e.ac.Language, locale.MsgTaskCancelled),
		err:     taskerr.Cancelled(cause),
	}
}

// finish emits the single terminal event and builds the outcome.
func (e *Executor) finish(end ending, elapsed time.Duration) schemas.TaskOutcome {
	state := schemas.TaskOK
	switch end.status {
	case schemas.TaskStatusFailed:
		state = schemas.TaskFail
	case schemas.TaskStatusCancelled:
		state = schemas.TaskCancel
	}
	details := end.message
	if end.answer != "" {
		details += "\n" + end.answer
	}
	e.emit(schemas.ActorSystem, state, details)

	outcome := schemas.TaskOutcome{
		TaskID:     e.ac.TaskID,
		Status:     end.status,
		Answer:     end.answer,
		Validation: end.validation,
		Steps:      e.ac.Step,
		Duration:   elapsed,
	}
	if end.err != nil {
		outcome.Error = end.err.Error()
	}
	e.logger.Info("Task finished.",
		zap.String("status", string(end.status)),
		zap.Int("steps", outcome.Steps),
		zap.Duration("duration", elapsed))
	return outcome
}

func (e *Executor) emit(actor schemas.Actor, state schemas.ExecutionState, details string) {
	e.sink.Emit(schemas.ExecutionEvent{
		ID:        uuid.NewString(),
		TaskID:    e.ac.TaskID,
		Actor:     actor,
		State:     state,
		Step:      e.ac.Step,
		MaxSteps:  e.cfg.MaxSteps,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}
