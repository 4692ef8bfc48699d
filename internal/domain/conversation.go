package domain

// Conversation is an ordered thread of messages owned by a single user.
type Conversation struct {
	ID        ConversationID
	UserID    UserID
	Title     string
	CreatedAt Timestamp

	// UpdatedAt moves forward once per successful exchange.
	UpdatedAt Timestamp
}

// Message is one turn of a conversation. It is immutable once stored.
type Message struct {
	ID             MessageID
	ConversationID ConversationID
	Role           Role
	Content        string
	CreatedAt      Timestamp

	// Token counts are only set on assistant messages of a successful exchange.
	TokensInput  *int
	TokensOutput *int
}

// Turn is the {role, content} pair handed to the completion provider.
type Turn struct {
	Role    Role
	Content string
}

// Identity is what the identity provider returns for a verified bearer token.
type Identity struct {
	UserID UserID
	Email  string
}

// Exchange is a user message and its assistant reply, persisted as one unit.
type Exchange struct {
	UserMessage      *Message
	AssistantMessage *Message
	CompletedAt      Timestamp
}
