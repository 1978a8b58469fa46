package schemas

// -- Model Message Schemas --

// Role tags a message for the language model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a model conversation. Image is an optional
// base64 encoded screenshot attached to a user message.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Image     string `json:"image,omitempty"`
	ImageMIME string `json:"imageMime,omitempty"`
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage builds a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage builds an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// HasImage reports whether the message carries a screenshot.
func (m Message) HasImage() bool { return m.Image != "" }

// WithoutImage returns the message with any screenshot removed.
func (m Message) WithoutImage() Message {
	m.Image = ""
	m.ImageMIME = ""
	return m
}
