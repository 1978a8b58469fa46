package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

const validMark = "✅"

// Validator judges whether the task is complete from the final page state.
type Validator struct {
	role
}

var _ Agent[schemas.ValidationResult] = (*Validator)(nil)

// NewValidator creates a validator backed by invoker.
func NewValidator(invoker Invoker, logger *zap.Logger) *Validator {
	return &Validator{role: role{id: ValidatorID, invoker: invoker, logger: logger.Named(ValidatorID)}}
}

func (v *Validator) SystemMessage(lang locale.Language) schemas.Message {
	return validatorSystemMessage(lang)
}

// UserMessage carries the task, earlier follow-up tasks, the agent's final
// answer and the final browser state.
func (v *Validator) UserMessage(ac *AgentContext) schemas.Message {
	var sb strings.Builder
	if len(ac.Task.FollowUp) > 0 {
		sb.WriteString("Previous tasks, for context:\n")
		for _, t := range ac.Task.FollowUp {
			sb.WriteString("- " + t + "\n")
		}
	}
	sb.WriteString("Ultimate task: " + ac.Task.Text + "\n")
	if ac.FinalText != "" {
		sb.WriteString("Final answer of the agent: " + ac.FinalText + "\n")
	}

	state := stateMessage(ac.State, nil, 0, 0, ac.Options.UseVision)
	state.Content = sb.String() + state.Content
	return state
}

// Execute returns the verdict. A valid answer always carries the ✅ mark.
func (v *Validator) Execute(ctx context.Context, ac *AgentContext) (schemas.ValidationResult, error) {
	msgs := []schemas.Message{v.SystemMessage(ac.Language), v.UserMessage(ac)}

	var res schemas.ValidationResult
	if err := v.invoke(ctx, ac, validationSchema(), "validation", msgs, &res); err != nil {
		return schemas.ValidationResult{}, err
	}
	if res.IsValid {
		res.Answer = strings.TrimSpace(res.Answer)
		if res.Answer == "" {
			res.Answer = ac.FinalText
		}
		if !strings.HasPrefix(res.Answer, validMark) {
			res.Answer = validMark + " " + res.Answer
		}
	}

	v.logger.Debug("Validation finished.", zap.Bool("is_valid", res.IsValid), zap.String("reason", res.Reason))
	return res, nil
}
