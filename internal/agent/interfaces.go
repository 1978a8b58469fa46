// File: internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/browser/session"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

// Invoker is the model invocation adapter as seen by an agent.
// *llmclient.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, call llmclient.Call, out any) error
	Model() string
}

// StateCapturer builds browser state snapshots. *session.Builder satisfies it.
type StateCapturer interface {
	Capture(ctx context.Context, opts session.CaptureOptions) (*schemas.BrowserStateSnapshot, error)
	// Forget drops the previous snapshot so the next capture marks nothing as new.
	Forget()
}

// ActionRunner applies a navigator batch. *actions.Executor satisfies it.
type ActionRunner interface {
	ExecuteBatch(ctx context.Context, cmds []actions.Command, snap *schemas.BrowserStateSnapshot) (actions.BatchResult, error)
}

// Agent is the shape shared by the planner, navigator and validator: a fixed
// system prompt, a user message derived from the run state, and one model call.
type Agent[T any] interface {
	SystemMessage(lang locale.Language) schemas.Message
	UserMessage(ac *AgentContext) schemas.Message
	Execute(ctx context.Context, ac *AgentContext) (T, error)
}

var (
	_ Invoker       = (*llmclient.Invoker)(nil)
	_ StateCapturer = (*session.Builder)(nil)
	_ ActionRunner  = (*actions.Executor)(nil)
)
