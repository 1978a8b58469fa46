// internal/llmclient/invoker.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
	"github.com/xkilldash9x/webpilot/internal/locale"
	"github.com/xkilldash9x/webpilot/internal/taskerr"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

// Call describes one invocation.
type Call struct {
	AgentID  string
	Schema   *llmutil.Schema
	Name     string
	Messages []schemas.Message
	// Language localizes user-facing error messages.
	Language locale.Language
}

// Invoker is the model invocation adapter. It gates each call on the token ledger,
// calls the model once, decodes the answer through the structured or freeform path
// and consumes tokens only when decoding succeeds.
type Invoker struct {
	model    string
	provider Provider
	ledger   tokens.Ledger
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]*semaphore.Weighted
}

// NewInvoker wraps provider. model is the configuration entry name used as the
// ledger key. A positive requestsPerMinute enables client-side rate limiting.
func NewInvoker(model string, provider Provider, ledger tokens.Ledger, requestsPerMinute float64, logger *zap.Logger) *Invoker {
	inv := &Invoker{
		model:    model,
		provider: provider,
		ledger:   ledger,
		logger:   logger.Named("invoker").With(zap.String("model", model)),
		inflight: make(map[string]*semaphore.Weighted),
	}
	if requestsPerMinute > 0 {
		inv.limiter = rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1)
	}
	return inv
}

// Model returns the configuration entry name of the invoker's model.
func (inv *Invoker) Model() string { return inv.model }

// agentSlot returns the semaphore serializing calls for one agent.
func (inv *Invoker) agentSlot(agentID string) *semaphore.Weighted {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	sem, ok := inv.inflight[agentID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		inv.inflight[agentID] = sem
	}
	return sem
}

// Invoke runs call and decodes the validated answer into out.
func (inv *Invoker) Invoke(ctx context.Context, call Call, out any) error {
	if len(call.Messages) == 0 {
		return taskerr.New(taskerr.CodeInvalidArguments, "invoke requires at least one message")
	}
	if err := ctx.Err(); err != nil {
		return taskerr.Cancelled(err)
	}

	sem := inv.agentSlot(call.AgentID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return taskerr.Cancelled(err)
	}
	defer sem.Release(1)

	ok, err := inv.ledger.HasTokens(ctx, inv.model)
	if err != nil {
		if ctx.Err() != nil {
			return taskerr.Cancelled(ctx.Err())
		}
		return fmt.Errorf("failed to check token balance: %w", err)
	}
	if !ok {
		return taskerr.New(taskerr.CodeInsufficientTokens, "%s",
			locale.Message(call.Language, locale.MsgInsufficientTokens, inv.model))
	}

	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return taskerr.Cancelled(ctx.Err())
			}
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	structured := call.Schema != nil && inv.provider.SupportsStructuredOutput()
	start := time.Now()
	resp, err := inv.provider.Generate(ctx, Request{
		Messages:   call.Messages,
		Schema:     call.Schema,
		SchemaName: call.Name,
		Structured: structured,
	})
	if ctx.Err() != nil {
		return taskerr.Cancelled(ctx.Err())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return taskerr.Cancelled(err)
		}
		return err
	}

	if structured {
		err = inv.decodeStructured(resp.Text, call.Schema, out)
	} else {
		err = inv.decodeFreeform(resp.Text, call.Schema, out)
	}
	if err != nil {
		inv.logger.Warn("Failed to decode model output.",
			zap.String("agent_id", call.AgentID),
			zap.Bool("structured", structured),
			zap.String("raw", llmutil.TruncateString(resp.Text, 500)),
			zap.Error(err))
		return err
	}

	res, err := inv.ledger.ConsumeTokens(ctx, inv.model, call.AgentID)
	switch {
	case err != nil:
		inv.logger.Error("Failed to record token consumption.", zap.String("agent_id", call.AgentID), zap.Error(err))
	case !res.Success:
		inv.logger.Warn("Token balance exhausted while consuming.", zap.String("agent_id", call.AgentID), zap.Int64("remaining", res.Remaining))
	}

	inv.logger.Debug("Model invocation complete.",
		zap.String("agent_id", call.AgentID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return nil
}

// decodeStructured accepts the provider's schema-constrained answer, falling back
// once to extraction from the raw text.
func (inv *Invoker) decodeStructured(text string, schema *llmutil.Schema, out any) error {
	primary := decodeValidated([]byte(text), schema, out)
	if primary == nil {
		return nil
	}
	if raw, err := llmutil.ExtractJSONObject(llmutil.StripThinking(text)); err == nil {
		if decodeValidated([]byte(raw), schema, out) == nil {
			inv.logger.Debug("Structured output recovered by extraction.")
			return nil
		}
	}
	return taskerr.Wrap(taskerr.CodeStructuredOutputParseError, primary, "structured output did not match the expected schema")
}

// decodeFreeform extracts the first valid JSON object after removing reasoning
// markup, falling back once to the lenient fence/bracket parser.
func (inv *Invoker) decodeFreeform(text string, schema *llmutil.Schema, out any) error {
	cleaned := llmutil.StripThinking(text)

	raw, primary := llmutil.ExtractJSONObject(cleaned)
	if primary == nil {
		if primary = decodeValidated([]byte(raw), schema, out); primary == nil {
			return nil
		}
	}

	if obj, err := llmutil.ParseJSONResponse[map[string]interface{}](cleaned); err == nil {
		if b, err := json.Marshal(obj); err == nil && decodeValidated(b, schema, out) == nil {
			inv.logger.Debug("Freeform output recovered by lenient parsing.")
			return nil
		}
	}
	return taskerr.Wrap(taskerr.CodeJSONExtractionError, primary, "no JSON object matching the expected schema in model output")
}

func decodeValidated(raw []byte, schema *llmutil.Schema, out any) error {
	if schema != nil {
		if err := schema.ValidateJSON(raw); err != nil {
			return err
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
