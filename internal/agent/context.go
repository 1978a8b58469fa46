package agent

import (
	"context"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

// AgentContext is the state of one task run. The Executor owns and mutates it;
// agents read it, append to Messages and observe cancellation through Err.
type AgentContext struct {
	TaskID   string
	Task     schemas.Task
	Options  config.AgentConfig
	Language locale.Language
	Messages *MessageManager

	// Step counts navigator steps of the current run, starting at 0.
	Step int
	// ConsecutiveFailures resets to 0 after any step without an error.
	ConsecutiveFailures int

	// State is the current snapshot. Every action index resolves against it.
	State *schemas.BrowserStateSnapshot
	// LastResults are the results of the most recent navigator batch.
	LastResults []schemas.ActionResult
	Plan        *schemas.Plan
	Validation  *schemas.ValidationResult
	// FinalText is the text of the last done action.
	FinalText string

	signal context.Context
}

// NewAgentContext prepares the run state for task. The response language comes
// from opts.Language when it names a supported language, otherwise it is
// detected from the task text.
func NewAgentContext(taskID string, task schemas.Task, opts config.AgentConfig, messages *MessageManager) *AgentContext {
	return &AgentContext{
		TaskID:   taskID,
		Task:     task,
		Options:  opts,
		Language: responseLanguage(opts.Language, task.Text),
		Messages: messages,
		signal:   context.Background(),
	}
}

func responseLanguage(configured, text string) locale.Language {
	if l, ok := locale.Parse(configured); ok {
		return l
	}
	return locale.Detect(text)
}

// Err is non-nil once the run has been cancelled.
func (ac *AgentContext) Err() error { return ac.signal.Err() }

// begin resets the per-run counters and binds the cancellation signal.
func (ac *AgentContext) begin(ctx context.Context) {
	ac.signal = ctx
	ac.Step = 0
	ac.ConsecutiveFailures = 0
	ac.LastResults = nil
	ac.Validation = nil
	ac.FinalText = ""
}

// partialAnswer is the best answer available when the run did not succeed.
func (ac *AgentContext) partialAnswer() string {
	if ac.Validation != nil && ac.Validation.Answer != "" {
		return ac.Validation.Answer
	}
	return ac.FinalText
}
