package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/llmutil"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
	structured bool
}

func (m *MockProvider) Model() string                  { return "mock-model" }
func (m *MockProvider) SupportsStructuredOutput() bool { return m.structured }

func (m *MockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Response), args.Error(1)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMModelConfig for testing purposes.
func getValidLLMConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:         config.ProviderGemini,
		APIKey:           "test-api-key",
		Model:            "test-model",
		APITimeout:       5 * time.Second,
		Temperature:      0.2,
		TopP:             0.9,
		StructuredOutput: true,
	}
}

func verdictSchema() *llmutil.Schema {
	return llmutil.Object(map[string]*llmutil.Schema{
		"is_valid": llmutil.Boolean("whether the task is complete"),
		"reason":   llmutil.String("why"),
		"answer":   llmutil.String("final answer"),
	})
}

type verdict struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
	Answer  string `json:"answer"`
}
