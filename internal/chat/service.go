package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatterbox-im/chatterbox/internal/logging"
	"github.com/chatterbox-im/chatterbox/internal/transport"
)

// Transport is the websocket surface the service drives.
// *transport.Manager satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(f transport.Frame) error
	OnFrame(t transport.FrameType, h transport.FrameHandler) int
	OffFrame(t transport.FrameType, id int)
	OnStateChange(h transport.StateHandler) int
	OffStateChange(id int)
	State() transport.State
}

// MessageHandler receives newly merged messages.
type MessageHandler func(Message)

// TypingHandler receives typing signal changes for a conversation.
type TypingHandler func(conversationID, userID string, active bool)

// Service binds the conversation store to the realtime channel and the
// REST endpoints: inbound frames are folded into the store, outbound
// operations are expressed as frames with a REST fallback where one
// exists.
type Service struct {
	store *Store
	rest  *RESTClient
	ws    Transport
	log   logging.Logger

	mu         sync.Mutex
	open       bool
	selfID     string
	frameSubs  map[transport.FrameType]int
	stateSub   int
	msgSubs    map[int]MessageHandler
	typingSubs map[int]TypingHandler
	stateSubs  map[int]transport.StateHandler
	nextID     int
	autoStop   map[string]*time.Timer

	autoStopAfter time.Duration
}

// NewService wires a service. OpenChannel must be called before realtime
// operations work.
func NewService(store *Store, rest *RESTClient, ws Transport, log logging.Logger) *Service {
	s := &Service{
		store:      store,
		rest:       rest,
		ws:         ws,
		log:        log,
		frameSubs:  make(map[transport.FrameType]int),
		msgSubs:    make(map[int]MessageHandler),
		typingSubs: make(map[int]TypingHandler),
		stateSubs:  make(map[int]transport.StateHandler),
		autoStop:   make(map[string]*time.Timer),

		autoStopAfter: TypingTTL,
	}
	store.OnTypingExpired(s.typingExpired)
	return s
}

// OpenChannel connects the realtime channel for the given local user and
// starts folding inbound frames into the store. Calling it on an open
// channel reconnects if needed but does not duplicate subscriptions.
func (s *Service) OpenChannel(ctx context.Context, selfID string) error {
	s.mu.Lock()
	s.selfID = selfID
	s.store.SetSelf(selfID)
	if !s.open {
		s.frameSubs[transport.FrameMessage] = s.ws.OnFrame(transport.FrameMessage, s.handleMessageFrame)
		s.frameSubs[transport.FrameTyping] = s.ws.OnFrame(transport.FrameTyping, s.handleTypingFrame)
		s.frameSubs[transport.FrameReadReceipt] = s.ws.OnFrame(transport.FrameReadReceipt, s.handleReceiptFrame)
		s.frameSubs[transport.FrameError] = s.ws.OnFrame(transport.FrameError, s.handleErrorFrame)
		s.stateSub = s.ws.OnStateChange(s.handleStateChange)
		s.open = true
	}
	s.mu.Unlock()

	return s.ws.Connect(ctx)
}

// CloseChannel tears the realtime channel down and detaches from the
// transport. Safe to call when already closed.
func (s *Service) CloseChannel() {
	s.mu.Lock()
	if s.open {
		for t, id := range s.frameSubs {
			s.ws.OffFrame(t, id)
			delete(s.frameSubs, t)
		}
		s.ws.OffStateChange(s.stateSub)
		s.open = false
	}
	for conv, t := range s.autoStop {
		t.Stop()
		delete(s.autoStop, conv)
	}
	s.mu.Unlock()

	s.ws.Disconnect()
}

// ChannelState reports where the realtime channel currently stands.
func (s *Service) ChannelState() transport.State {
	return s.ws.State()
}

// Hydrate pulls the conversation list over REST. The merge-based store
// makes it safe to run while frames are already flowing.
func (s *Service) Hydrate(ctx context.Context) error {
	convos, err := s.rest.Conversations(ctx)
	if err != nil {
		return err
	}
	s.store.SetConversations(convos)
	return nil
}

// LoadMessages hydrates one conversation's history over REST.
func (s *Service) LoadMessages(ctx context.Context, conversationID string) error {
	msgs, err := s.rest.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	s.store.SetMessages(conversationID, msgs)
	return nil
}

// SendChatMessage sends a message, preferring the realtime channel and
// falling back to REST when the channel is down. The authoritative copy
// lands in the store when the gateway echoes it back.
func (s *Service) SendChatMessage(ctx context.Context, conversationID, body string, kind MessageKind) error {
	if kind == "" {
		kind = KindText
	}
	f, err := transport.NewFrame(transport.FrameMessage, transport.MessagePayload{
		ConversationID: conversationID,
		Body:           body,
		Kind:           string(kind),
	})
	if err != nil {
		return err
	}
	err = s.ws.Send(f)
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrNotConnected) {
		return err
	}

	msg, err := s.rest.SendMessage(ctx, conversationID, body, kind)
	if err != nil {
		return err
	}
	s.store.MergeMessage(msg)
	return nil
}

// SetTyping signals the local user's typing state. Starting to type arms
// an automatic stop signal after the typing TTL, so a peer never sees a
// stuck indicator from a client that went quiet.
func (s *Service) SetTyping(conversationID string, active bool) error {
	s.mu.Lock()
	selfID := s.selfID
	if t, ok := s.autoStop[conversationID]; ok {
		t.Stop()
		delete(s.autoStop, conversationID)
	}
	if active {
		s.autoStop[conversationID] = time.AfterFunc(s.autoStopAfter, func() {
			s.autoStopFired(conversationID)
		})
	}
	s.mu.Unlock()

	f, err := transport.NewFrame(transport.FrameTyping, transport.TypingPayload{
		ConversationID: conversationID,
		UserID:         selfID,
		Active:         active,
	})
	if err != nil {
		return err
	}
	return s.ws.Send(f)
}

func (s *Service) autoStopFired(conversationID string) {
	s.mu.Lock()
	delete(s.autoStop, conversationID)
	s.mu.Unlock()
	if err := s.SetTyping(conversationID, false); err != nil {
		s.log.Debug(context.Background(), "typing auto-stop not delivered", "error", err)
	}
}

// MarkConversationRead marks everything inbound in the conversation read,
// locally and on the server.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID string) error {
	marked := s.store.MarkConversationRead(conversationID, time.Now())
	if len(marked) == 0 {
		return nil
	}
	return s.rest.MarkRead(ctx, conversationID)
}

// OnMessage subscribes to newly merged messages.
func (s *Service) OnMessage(h MessageHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.msgSubs[s.nextID] = h
	return s.nextID
}

// OffMessage removes a message subscription.
func (s *Service) OffMessage(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.msgSubs, id)
}

// OnTyping subscribes to typing signal changes.
func (s *Service) OnTyping(h TypingHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.typingSubs[s.nextID] = h
	return s.nextID
}

// OffTyping removes a typing subscription.
func (s *Service) OffTyping(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typingSubs, id)
}

// OnConnectionStateChange subscribes to channel state transitions.
func (s *Service) OnConnectionStateChange(h transport.StateHandler) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.stateSubs[s.nextID] = h
	return s.nextID
}

// OffConnectionStateChange removes a state subscription.
func (s *Service) OffConnectionStateChange(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stateSubs, id)
}

func (s *Service) handleMessageFrame(f transport.Frame) {
	var p transport.MessagePayload
	if err := transport.DecodePayload(f, &p); err != nil {
		s.log.Warn(context.Background(), "dropping malformed message frame", "error", err)
		return
	}
	msg := messageFromPayload(p)
	inserted := s.store.MergeMessage(msg)

	// A message from a peer supersedes their typing indicator.
	s.store.ClearTyping(msg.ConversationID, msg.SenderID)
	s.notifyTyping(msg.ConversationID, msg.SenderID, false)

	if !inserted {
		return
	}
	for _, h := range s.messageHandlers() {
		h(msg)
	}
}

func (s *Service) handleTypingFrame(f transport.Frame) {
	var p transport.TypingPayload
	if err := transport.DecodePayload(f, &p); err != nil {
		s.log.Warn(context.Background(), "dropping malformed typing frame", "error", err)
		return
	}
	s.mu.Lock()
	self := p.UserID == s.selfID
	s.mu.Unlock()
	if self {
		return
	}
	if p.Active {
		s.store.RecordTyping(p.ConversationID, p.UserID)
	} else {
		s.store.ClearTyping(p.ConversationID, p.UserID)
	}
	s.notifyTyping(p.ConversationID, p.UserID, p.Active)
}

func (s *Service) handleReceiptFrame(f transport.Frame) {
	var p transport.ReadReceiptPayload
	if err := transport.DecodePayload(f, &p); err != nil {
		s.log.Warn(context.Background(), "dropping malformed receipt frame", "error", err)
		return
	}
	at := time.Now()
	if p.ReadAt > 0 {
		at = time.Unix(p.ReadAt, 0)
	}
	if p.Read {
		s.store.MarkRead(p.MessageID, at)
	} else {
		s.store.MarkDelivered(p.MessageID, at)
	}
}

func (s *Service) handleErrorFrame(f transport.Frame) {
	var p transport.ErrorPayload
	if err := transport.DecodePayload(f, &p); err != nil {
		s.log.Warn(context.Background(), "dropping malformed error frame", "error", err)
		return
	}
	s.log.Error(context.Background(), "gateway error frame", "message", p.Message)
}

func (s *Service) handleStateChange(st transport.Status) {
	s.mu.Lock()
	subs := make([]transport.StateHandler, 0, len(s.stateSubs))
	for _, h := range s.stateSubs {
		subs = append(subs, h)
	}
	s.mu.Unlock()
	for _, h := range subs {
		h(st)
	}
}

func (s *Service) typingExpired(conversationID, userID string) {
	s.notifyTyping(conversationID, userID, false)
}

func (s *Service) notifyTyping(conversationID, userID string, active bool) {
	s.mu.Lock()
	subs := make([]TypingHandler, 0, len(s.typingSubs))
	for _, h := range s.typingSubs {
		subs = append(subs, h)
	}
	s.mu.Unlock()
	for _, h := range subs {
		h(conversationID, userID, active)
	}
}

func (s *Service) messageHandlers() []MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MessageHandler, 0, len(s.msgSubs))
	for _, h := range s.msgSubs {
		out = append(out, h)
	}
	return out
}

func messageFromPayload(p transport.MessagePayload) Message {
	m := Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Body:           p.Body,
		Kind:           MessageKind(p.Kind),
		CreatedAt:      time.Unix(p.CreatedAt, 0),
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if p.DeliveredAt != nil {
		at := time.Unix(*p.DeliveredAt, 0)
		m.DeliveredAt = &at
	}
	if p.ReadAt != nil {
		at := time.Unix(*p.ReadAt, 0)
		m.ReadAt = &at
	}
	return m
}
