package domain

import "time"

type ConversationID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role a stored message may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Timestamp = time.Time

// DefaultConversationTitle is used when a conversation is created without one.
const DefaultConversationTitle = "New Conversation"
