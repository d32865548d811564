package chat

import (
	"sort"
	"sync"
	"time"
)

// TypingTTL is how long a typing indicator stays alive without being
// refreshed by another signal.
const TypingTTL = 3 * time.Second

// Store is the client-side view of conversations: an ordered, de-duplicated
// message timeline per conversation, per-message delivery state that only
// moves forward, and self-expiring typing indicators. Safe for concurrent
// use from the transport read loop and the UI.
type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	typingTTL time.Duration
	selfID    string

	conversations map[string]*Conversation
	order         map[string][]Message
	byID          map[string]string

	typing       map[string]map[string]time.Time
	typingTimers map[string]*time.Timer

	onTypingExpired func(conversationID, userID string)
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		now:           time.Now,
		typingTTL:     TypingTTL,
		conversations: make(map[string]*Conversation),
		order:         make(map[string][]Message),
		byID:          make(map[string]string),
		typing:        make(map[string]map[string]time.Time),
		typingTimers:  make(map[string]*time.Timer),
	}
}

// SetSelf tells the store which participant is the local user, so inbound
// messages from others count as unread.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = userID
}

// OnTypingExpired registers a callback fired when a typing indicator times
// out on its own rather than being cleared by a stop signal.
func (s *Store) OnTypingExpired(fn func(conversationID, userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTypingExpired = fn
}

// SetConversations replaces the conversation list, typically from a REST
// hydration pass. Message timelines are kept.
func (s *Store) SetConversations(list []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*Conversation, len(list))
	for _, c := range list {
		cc := c
		s.conversations[c.ID] = &cc
	}
}

// Conversations returns the known conversations, most recently active first.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation looks up a single conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

// SetMessages replaces a conversation's timeline from a hydration pass,
// normalizing order on the way in.
func (s *Store) SetMessages(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.order[conversationID] {
		delete(s.byID, m.ID)
	}
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool { return messageLess(sorted[i], sorted[j]) })
	s.order[conversationID] = sorted
	for _, m := range sorted {
		s.byID[m.ID] = conversationID
	}
}

// messageLess orders by creation time, breaking ties on id so concurrent
// messages land in the same order on every client.
func messageLess(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// MergeMessage inserts a message into its conversation's timeline at the
// position its creation time dictates. Merging the same id again is a no-op
// beyond folding in any newer delivery state; it reports whether the
// message was actually new.
func (s *Store) MergeMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, known := s.byID[m.ID]; known {
		s.foldReceiptLocked(m.ID, m.DeliveredAt, m.ReadAt)
		return false
	}

	timeline := s.order[m.ConversationID]
	i := sort.Search(len(timeline), func(i int) bool { return !messageLess(timeline[i], m) })
	timeline = append(timeline, Message{})
	copy(timeline[i+1:], timeline[i:])
	timeline[i] = m
	s.order[m.ConversationID] = timeline
	s.byID[m.ID] = m.ConversationID

	if c, ok := s.conversations[m.ConversationID]; ok {
		if m.CreatedAt.After(c.LastActivityAt) {
			c.LastActivityAt = m.CreatedAt
		}
		if s.selfID != "" && m.SenderID != s.selfID && m.ReadAt == nil {
			c.UnreadCount++
		}
	}
	return true
}

// Messages returns a copy of a conversation's timeline in display order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline := s.order[conversationID]
	out := make([]Message, len(timeline))
	copy(out, timeline)
	return out
}

// MarkDelivered records a delivery receipt. Delivery state never moves
// backwards: a message already delivered or read is left alone.
func (s *Store) MarkDelivered(messageID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foldReceiptLocked(messageID, &at, nil)
}

// MarkRead records a read receipt, implying delivery.
func (s *Store) MarkRead(messageID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foldReceiptLocked(messageID, nil, &at)
}

func (s *Store) foldReceiptLocked(messageID string, delivered, read *time.Time) bool {
	convID, ok := s.byID[messageID]
	if !ok {
		return false
	}
	timeline := s.order[convID]
	changed := false
	for i := range timeline {
		if timeline[i].ID != messageID {
			continue
		}
		if delivered != nil && timeline[i].DeliveredAt == nil {
			at := *delivered
			timeline[i].DeliveredAt = &at
			changed = true
		}
		if read != nil && timeline[i].ReadAt == nil {
			at := *read
			timeline[i].ReadAt = &at
			if timeline[i].DeliveredAt == nil {
				timeline[i].DeliveredAt = &at
			}
			changed = true
		}
		break
	}
	return changed
}

// MarkConversationRead marks every unread inbound message in the
// conversation as read, resets the unread counter and returns the ids that
// changed so receipts can be sent for them.
func (s *Store) MarkConversationRead(conversationID string, at time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var marked []string
	timeline := s.order[conversationID]
	for i := range timeline {
		if timeline[i].SenderID == s.selfID || timeline[i].ReadAt != nil {
			continue
		}
		ts := at
		timeline[i].ReadAt = &ts
		if timeline[i].DeliveredAt == nil {
			timeline[i].DeliveredAt = &ts
		}
		marked = append(marked, timeline[i].ID)
	}
	if c, ok := s.conversations[conversationID]; ok {
		c.UnreadCount = 0
	}
	return marked
}

// RecordTyping notes that a user started typing. The indicator expires on
// its own after the TTL unless refreshed or explicitly cleared.
func (s *Store) RecordTyping(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.typing[conversationID] == nil {
		s.typing[conversationID] = make(map[string]time.Time)
	}
	s.typing[conversationID][userID] = s.now().Add(s.typingTTL)

	key := conversationID + "\x00" + userID
	if t, ok := s.typingTimers[key]; ok {
		t.Reset(s.typingTTL)
		return
	}
	s.typingTimers[key] = time.AfterFunc(s.typingTTL, func() {
		s.expireTyping(conversationID, userID)
	})
}

// ClearTyping removes a user's typing indicator immediately.
func (s *Store) ClearTyping(conversationID, userID string) {
	s.mu.Lock()
	s.clearTypingLocked(conversationID, userID)
	s.mu.Unlock()
}

func (s *Store) clearTypingLocked(conversationID, userID string) {
	delete(s.typing[conversationID], userID)
	key := conversationID + "\x00" + userID
	if t, ok := s.typingTimers[key]; ok {
		t.Stop()
		delete(s.typingTimers, key)
	}
}

func (s *Store) expireTyping(conversationID, userID string) {
	s.mu.Lock()
	deadline, ok := s.typing[conversationID][userID]
	if !ok || s.now().Before(deadline) {
		// Refreshed since the timer was armed.
		s.mu.Unlock()
		return
	}
	s.clearTypingLocked(conversationID, userID)
	fn := s.onTypingExpired
	s.mu.Unlock()

	if fn != nil {
		fn(conversationID, userID)
	}
}

// TypingUsers lists the users currently typing in a conversation, dropping
// indicators whose deadline has passed even if the timer has not fired yet.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []string
	for userID, deadline := range s.typing[conversationID] {
		if now.Before(deadline) {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}
