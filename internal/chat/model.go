package chat

import "time"

// MessageKind distinguishes user-authored messages from system notices.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// Message is one chat message as the client sees it. DeliveredAt and
// ReadAt stay nil until the corresponding receipt arrives.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Kind           MessageKind
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// Participant is the shape of a conversation member.
type Participant struct {
	ID          string
	DisplayName string
	AvatarRef   string
}

// Conversation is a direct two-party thread.
type Conversation struct {
	ID             string
	Participants   [2]Participant
	LastActivityAt time.Time
	UnreadCount    int
}

// Other returns the participant that is not selfID.
func (c Conversation) Other(selfID string) Participant {
	if c.Participants[0].ID == selfID {
		return c.Participants[1]
	}
	return c.Participants[0]
}
