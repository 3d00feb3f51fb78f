// Package conversation holds the ordered transcript that forms model context.
package conversation

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged entry of a conversation.
// Messages are values; once appended they are never modified.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a message authored by the user.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns a message authored by the model.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Conversation is an append-only list of messages. The only other mutation
// is Reset, which drops everything at once.
//
// A Conversation is not safe for concurrent use; its owner serializes access.
type Conversation struct {
	messages []Message
}

// New returns an empty conversation.
func New() *Conversation {
	return &Conversation{}
}

// Append adds a message at the end of the transcript.
func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the transcript in order.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Reset empties the conversation.
func (c *Conversation) Reset() {
	c.messages = nil
}
