package agent

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

// imageTokens is the flat estimate charged for an attached screenshot.
const imageTokens = 800

type messageKind int

const (
	kindSystem messageKind = iota
	kindTask
	kindPlan
	kindModelOutput
	kindResult
	kindNote
	kindState
)

// pinned messages are never trimmed.
func (k messageKind) pinned() bool { return k == kindSystem || k == kindTask }

type managedMessage struct {
	msg    schemas.Message
	kind   messageKind
	tokens int
}

// MessageManager is the navigator's conversation history. It holds at most one
// browser-state message and keeps the total estimated size within a token budget
// by dropping the oldest unpinned messages first.
type MessageManager struct {
	mu        sync.Mutex
	counter   tokens.Counter
	maxTokens int
	logger    *zap.Logger

	msgs  []managedMessage
	total int
}

// NewMessageManager creates an empty history. A non-positive maxInputTokens disables trimming.
func NewMessageManager(counter tokens.Counter, maxInputTokens int, logger *zap.Logger) *MessageManager {
	return &MessageManager{
		counter:   counter,
		maxTokens: maxInputTokens,
		logger:    logger.Named("message_manager"),
	}
}

// InitTaskMessages resets the history to the system prompt and the task.
func (m *MessageManager) InitTaskMessages(system schemas.Message, task schemas.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = nil
	m.total = 0
	m.add(system, kindSystem)
	if len(task.FollowUp) > 0 {
		m.add(schemas.UserMessage("Previous tasks, oldest first:\n- "+strings.Join(task.FollowUp, "\n- ")), kindTask)
	}
	m.add(schemas.UserMessage(taskMessage(task.Text)), kindTask)
}

// AddNewTask appends a follow-up task. Earlier history stays as context.
func (m *MessageManager) AddNewTask(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(schemas.UserMessage(fmt.Sprintf(
		"Your new ultimate task is: %q. This is a follow-up of the previous tasks. "+
			"Make sure to take all of the previous context into account and finish your new ultimate task.", text)), kindTask)
	m.trim()
}

// AddPlan records a planner output as an assistant message.
func (m *MessageManager) AddPlan(plan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(schemas.AssistantMessage("<plan>\n"+plan+"\n</plan>"), kindPlan)
	m.trim()
}

// AddModelOutput records the navigator's raw answer.
func (m *MessageManager) AddModelOutput(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(schemas.AssistantMessage(content), kindModelOutput)
	m.trim()
}

// AddActionResults keeps the results marked for memory. Results not kept here
// are only shown in the next state message.
func (m *MessageManager) AddActionResults(results []schemas.ActionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range results {
		if !r.IncludeInMemory {
			continue
		}
		if r.Error != "" {
			m.add(schemas.UserMessage("Action error ("+r.Action+"): "+r.Error), kindResult)
		} else if r.ExtractedContent != "" {
			m.add(schemas.UserMessage("Action result ("+r.Action+"): "+r.ExtractedContent), kindResult)
		}
	}
	m.trim()
}

// AddNote appends executor feedback such as a failed step or a rejected answer.
func (m *MessageManager) AddNote(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(schemas.UserMessage(text), kindNote)
	m.trim()
}

// AddStateMessage replaces the current browser-state message.
func (m *MessageManager) AddStateMessage(msg schemas.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeState()
	m.add(msg, kindState)
	m.trim()
}

// RemoveStateMessage drops the browser-state message, if any.
func (m *MessageManager) RemoveStateMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeState()
}

// Messages returns a copy of the history in order.
func (m *MessageManager) Messages() []schemas.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.Message, len(m.msgs))
	for i, mm := range m.msgs {
		out[i] = mm.msg
	}
	return out
}

// Tokens is the estimated size of the history.
func (m *MessageManager) Tokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *MessageManager) add(msg schemas.Message, kind messageKind) {
	n := m.count(msg)
	m.msgs = append(m.msgs, managedMessage{msg: msg, kind: kind, tokens: n})
	m.total += n
}

func (m *MessageManager) count(msg schemas.Message) int {
	n := m.counter.Count(msg.Content)
	if msg.HasImage() {
		n += imageTokens
	}
	return n
}

func (m *MessageManager) removeState() {
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].kind == kindState {
			m.removeAt(i)
			return
		}
	}
}

func (m *MessageManager) removeAt(i int) {
	m.total -= m.msgs[i].tokens
	m.msgs = append(m.msgs[:i], m.msgs[i+1:]...)
}

// trim drops the oldest unpinned messages other than the state message until the
// history fits. If only pinned messages and the state remain, the state's
// screenshot goes next.
func (m *MessageManager) trim() {
	if m.maxTokens <= 0 {
		return
	}
	for m.total > m.maxTokens {
		victim := -1
		for i, mm := range m.msgs {
			if !mm.kind.pinned() && mm.kind != kindState {
				victim = i
				break
			}
		}
		if victim >= 0 {
			m.removeAt(victim)
			continue
		}
		if !m.stripStateImage() {
			m.logger.Warn("Message history exceeds the input budget after trimming.",
				zap.Int("tokens", m.total), zap.Int("max_tokens", m.maxTokens))
			return
		}
	}
}

func (m *MessageManager) stripStateImage() bool {
	for i := range m.msgs {
		mm := &m.msgs[i]
		if mm.kind == kindState && mm.msg.HasImage() {
			mm.msg = mm.msg.WithoutImage()
			mm.tokens -= imageTokens
			m.total -= imageTokens
			return true
		}
	}
	return false
}

func taskMessage(text string) string {
	return fmt.Sprintf("Your ultimate task is: %q. If you achieved your ultimate task, stop everything "+
		"and use the done action in the next step to complete the task. If not, continue as usual.", text)
}
