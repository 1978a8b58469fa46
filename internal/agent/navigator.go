package agent

import (
	"context"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

// NavigatorStep is one navigator answer with its validated commands.
type NavigatorStep struct {
	Output   schemas.NavigatorOutput
	Commands []actions.Command
}

// Navigator turns the plan and the current state into an action batch.
type Navigator struct {
	role
	maxActions int
}

var _ Agent[NavigatorStep] = (*Navigator)(nil)

// NewNavigator creates a navigator backed by invoker that proposes at most
// maxActions actions per step.
func NewNavigator(invoker Invoker, maxActions int, logger *zap.Logger) *Navigator {
	return &Navigator{
		role:       role{id: NavigatorID, invoker: invoker, logger: logger.Named(NavigatorID)},
		maxActions: maxActions,
	}
}

func (n *Navigator) SystemMessage(lang locale.Language) schemas.Message {
	return navigatorSystemMessage(lang, n.maxActions)
}

// UserMessage renders the current state together with the previous batch's results.
func (n *Navigator) UserMessage(ac *AgentContext) schemas.Message {
	return stateMessage(ac.State, ac.LastResults, ac.Step, ac.Options.MaxSteps, ac.Options.UseVision)
}

// Execute asks for the next batch. The state message lives in the history only
// for the duration of the call; the answer is kept as an assistant message.
// Commands are validated against the registry and bounded by the per-step limit.
func (n *Navigator) Execute(ctx context.Context, ac *AgentContext) (NavigatorStep, error) {
	ac.Messages.AddStateMessage(n.UserMessage(ac))
	msgs := ac.Messages.Messages()

	var out schemas.NavigatorOutput
	err := n.invoke(ctx, ac, navigatorSchema(), "navigator_output", msgs, &out)
	ac.Messages.RemoveStateMessage()
	if err != nil {
		return NavigatorStep{}, err
	}

	if raw, merr := json.Marshal(out); merr == nil {
		ac.Messages.AddModelOutput(string(raw))
	}

	step := NavigatorStep{Output: out}
	entries := out.Actions
	if limit := n.maxActions; limit > 0 && len(entries) > limit {
		n.logger.Warn("Navigator returned too many actions; truncating.",
			zap.Int("returned", len(entries)), zap.Int("limit", limit))
		entries = entries[:limit]
	}
	cmds, err := actions.ParseCommands(entries)
	if err != nil {
		return step, err
	}
	step.Commands = cmds

	n.logger.Debug("Navigator step decided.",
		zap.String("evaluation_previous_goal", out.CurrentState.EvaluationPreviousGoal),
		zap.String("next_goal", out.CurrentState.NextGoal),
		zap.Int("actions", len(cmds)))
	return step, nil
}
