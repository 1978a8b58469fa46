package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/locale"
)

// Planner revises the high-level plan every few steps and after failures.
type Planner struct {
	role

	mu sync.Mutex
	// webTask is decided by the first plan of a top-level task and carried forward.
	webTask *bool
}

var _ Agent[schemas.Plan] = (*Planner)(nil)

// NewPlanner creates a planner backed by invoker.
func NewPlanner(invoker Invoker, logger *zap.Logger) *Planner {
	return &Planner{role: role{id: PlannerID, invoker: invoker, logger: logger.Named(PlannerID)}}
}

func (p *Planner) SystemMessage(lang locale.Language) schemas.Message {
	return plannerSystemMessage(lang)
}

// UserMessage renders the current browser state. The screenshot is included only
// with planner vision enabled.
func (p *Planner) UserMessage(ac *AgentContext) schemas.Message {
	withImage := ac.Options.UseVision && ac.Options.UseVisionForPlanner
	return stateMessage(ac.State, nil, ac.Step, ac.Options.MaxSteps, withImage)
}

// Execute reads the navigator history without its system prompt, plus the
// current state, and returns the next plan.
func (p *Planner) Execute(ctx context.Context, ac *AgentContext) (schemas.Plan, error) {
	history := ac.Messages.Messages()
	msgs := make([]schemas.Message, 0, len(history)+1)
	msgs = append(msgs, p.SystemMessage(ac.Language))
	for i, m := range history {
		if i == 0 && m.Role == schemas.RoleSystem {
			continue
		}
		if !ac.Options.UseVisionForPlanner {
			m = m.WithoutImage()
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, p.UserMessage(ac))

	var plan schemas.Plan
	if err := p.invoke(ctx, ac, planSchema(), "plan", msgs, &plan); err != nil {
		return schemas.Plan{}, err
	}
	plan = p.carryWebTask(plan)

	p.logger.Debug("Plan received.",
		zap.Bool("done", plan.Done),
		zap.Bool("web_task", plan.WebTask),
		zap.String("next_steps", plan.NextSteps))
	return plan, nil
}

// carryWebTask pins web_task to the first decision of the task. A non-web task is
// answered directly, so it is always done and carries no analysis.
func (p *Planner) carryWebTask(plan schemas.Plan) schemas.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.webTask == nil {
		decided := plan.WebTask
		p.webTask = &decided
	}
	plan.WebTask = *p.webTask
	if !plan.WebTask {
		plan.Done = true
		plan.Observation = ""
		plan.Challenges = ""
		plan.Reasoning = ""
	}
	return plan
}

// ResetWebTask lets the next plan decide web_task again, for a new top-level task.
func (p *Planner) ResetWebTask() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.webTask = nil
}
