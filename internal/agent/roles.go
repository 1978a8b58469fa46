package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser/actions"
	"github.com/xkilldash9x/webpilot/internal/llmclient"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
)

// Agent ids double as ledger accounts.
const (
	PlannerID   = "planner"
	NavigatorID = "navigator"
	ValidatorID = "validator"
)

// role holds what the three agents share: an id, an invoker and a logger.
type role struct {
	id      string
	invoker Invoker
	logger  *zap.Logger
}

// invoke checks the run's cancellation signal before calling the model.
func (r *role) invoke(ctx context.Context, ac *AgentContext, schema *llmutil.Schema, name string, msgs []schemas.Message, out any) error {
	if err := ac.Err(); err != nil {
		return taskerr.Cancelled(err)
	}
	if err := ctx.Err(); err != nil {
		return taskerr.Cancelled(err)
	}
	r.logger.Debug("Invoking model.", zap.String("model", r.invoker.Model()), zap.Int("messages", len(msgs)))
	return r.invoker.Invoke(ctx, llmclient.Call{
		AgentID:  r.id,
		Schema:   schema,
		Name:     name,
		Messages: msgs,
		Language: ac.Language,
	}, out)
}

func planSchema() *llmutil.Schema {
	return llmutil.Object(map[string]*llmutil.Schema{
		"observation": llmutil.String("What you observe on the current page and in the history."),
		"challenges":  llmutil.String("Potential roadblocks."),
		"done":        llmutil.Boolean("Whether the ultimate task is complete."),
		"next_steps":  llmutil.String("The next high-level steps, or the direct answer when web_task is false."),
		"reasoning":   llmutil.String("Why these steps."),
		"web_task":    llmutil.Boolean("Whether the task needs a web browser."),
	})
}

func navigatorSchema() *llmutil.Schema {
	return llmutil.Object(map[string]*llmutil.Schema{
		"current_state": llmutil.Object(map[string]*llmutil.Schema{
			"evaluation_previous_goal": llmutil.String("Success, Failed or Unknown, with a short reason."),
			"memory":                   llmutil.String("What has been done and what remains."),
			"next_goal":                llmutil.String("What the next actions should achieve."),
		}),
		"action": llmutil.Array(actions.ActionSchema()),
	})
}

func validationSchema() *llmutil.Schema {
	return llmutil.Object(map[string]*llmutil.Schema{
		"is_valid": llmutil.Boolean("Whether the ultimate task was completed."),
		"reason":   llmutil.String("Why the result is or is not valid."),
		"answer":   llmutil.String("The final answer, starting with ✅ when valid."),
	})
}
