package schemas

import (
	"time"

	json "github.com/json-iterator/go"
)

// -- Task Schemas --

// Task is the user's intent plus the follow-up tasks submitted before it, oldest first.
type Task struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	FollowUp []string `json:"followUp,omitempty"`
}

// WithFollowUp returns a new task whose history includes the current text.
func (t Task) WithFollowUp(text string) Task {
	history := append(append([]string(nil), t.FollowUp...), t.Text)
	return Task{ID: t.ID, Text: text, FollowUp: history}
}

// -- Agent Output Schemas --

// Plan is the planner's output for one planning cycle.
type Plan struct {
	Observation string `json:"observation"`
	Challenges  string `json:"challenges"`
	Done        bool   `json:"done"`
	NextSteps   string `json:"next_steps"`
	Reasoning   string `json:"reasoning"`
	WebTask     bool   `json:"web_task"`
}

// NavigatorState is the navigator's self-evaluation of the previous goal.
type NavigatorState struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
}

// NavigatorOutput carries the ordered action batch. Each entry is a single-key
// object mapping the action name to its arguments, e.g. {"click": {"index": 7}}.
type NavigatorOutput struct {
	CurrentState NavigatorState               `json:"current_state"`
	Actions      []map[string]json.RawMessage `json:"action"`
}

// ValidationResult is the validator's verdict on the task.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason"`
	Answer  string `json:"answer"`
}

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	Action           string `json:"action"`
	IsDone           bool   `json:"isDone"`
	ExtractedContent string `json:"extractedContent,omitempty"`
	Error            string `json:"error,omitempty"`
	// IncludeInMemory keeps the result in the message history after the next step.
	IncludeInMemory bool `json:"includeInMemory"`
	// Navigated is set when the action changed the page URL.
	Navigated bool `json:"navigated"`
	// Screenshot is a base64 PNG captured by the screenshot action.
	Screenshot string `json:"screenshot,omitempty"`
}

// -- Task Outcome --

// TaskStatus is the terminal state of a task run.
type TaskStatus string

const (
	TaskStatusDone      TaskStatus = "DONE"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// TaskOutcome summarises a finished run.
type TaskOutcome struct {
	TaskID     string            `json:"taskId"`
	Status     TaskStatus        `json:"status"`
	Answer     string            `json:"answer,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Steps      int               `json:"steps"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
}
