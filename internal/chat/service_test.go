package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatterbox-im/chatterbox/internal/logging"
	"github.com/chatterbox-im/chatterbox/internal/transport"
)

type fakeTransport struct {
	mu         sync.Mutex
	state      transport.State
	sent       []transport.Frame
	sendErr    error
	connectErr error
	connects   int

	handlers  map[transport.FrameType]map[int]transport.FrameHandler
	stateSubs map[int]transport.StateHandler
	nextID    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:     transport.StateConnected,
		handlers:  make(map[transport.FrameType]map[int]transport.FrameHandler),
		stateSubs: make(map[int]transport.StateHandler),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.StateDisconnected
}

func (f *fakeTransport) Send(fr transport.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeTransport) OnFrame(t transport.FrameType, h transport.FrameHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.handlers[t] == nil {
		f.handlers[t] = make(map[int]transport.FrameHandler)
	}
	f.handlers[t][f.nextID] = h
	return f.nextID
}

func (f *fakeTransport) OffFrame(t transport.FrameType, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[t], id)
}

func (f *fakeTransport) OnStateChange(h transport.StateHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.stateSubs[f.nextID] = h
	return f.nextID
}

func (f *fakeTransport) OffStateChange(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.stateSubs, id)
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// deliver pushes an inbound frame through the registered handlers the way
// the manager's read loop would.
func (f *fakeTransport) deliver(t *testing.T, ft transport.FrameType, payload any) {
	t.Helper()
	fr, err := transport.NewFrame(ft, payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := make([]transport.FrameHandler, 0, len(f.handlers[ft]))
	for _, h := range f.handlers[ft] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(fr)
	}
}

func (f *fakeTransport) sentFrames() []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestService(t *testing.T, ws *fakeTransport, restHandler http.Handler) (*Service, *Store) {
	t.Helper()
	store := NewStore()
	var rest *RESTClient
	if restHandler != nil {
		srv := httptest.NewServer(restHandler)
		t.Cleanup(srv.Close)
		rest = NewRESTClient(srv.URL, srv.Client())
	} else {
		rest = NewRESTClient("http://unused.local", http.DefaultClient)
	}
	svc := NewService(store, rest, ws, logging.NewNop())
	t.Cleanup(svc.CloseChannel)
	return svc, store
}

func TestOpenChannelSubscribesOnce(t *testing.T) {
	ws := newFakeTransport()
	svc, _ := newTestService(t, ws, nil)

	require.NoError(t, svc.OpenChannel(context.Background(), "me"))
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))
	require.Equal(t, 2, ws.connects)

	notified := 0
	svc.OnMessage(func(Message) { notified++ })
	ws.deliver(t, transport.FrameMessage, transport.MessagePayload{
		ID: "m1", ConversationID: "c1", SenderID: "peer", Body: "hi", CreatedAt: t0.Unix(),
	})
	require.Equal(t, 1, notified)
}

func TestInboundMessageMergedOnce(t *testing.T) {
	ws := newFakeTransport()
	svc, store := newTestService(t, ws, nil)
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	var got []Message
	svc.OnMessage(func(m Message) { got = append(got, m) })

	payload := transport.MessagePayload{
		ID: "m1", ConversationID: "c1", SenderID: "peer", Body: "hi", CreatedAt: t0.Unix(),
	}
	ws.deliver(t, transport.FrameMessage, payload)
	ws.deliver(t, transport.FrameMessage, payload)

	require.Len(t, got, 1)
	require.Equal(t, "hi", got[0].Body)
	require.Len(t, store.Messages("c1"), 1)
}

func TestInboundMessageClearsSenderTyping(t *testing.T) {
	ws := newFakeTransport()
	svc, store := newTestService(t, ws, nil)
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	var signals []bool
	svc.OnTyping(func(conv, user string, active bool) { signals = append(signals, active) })

	ws.deliver(t, transport.FrameTyping, transport.TypingPayload{ConversationID: "c1", UserID: "peer", Active: true})
	require.Equal(t, []string{"peer"}, store.TypingUsers("c1"))

	ws.deliver(t, transport.FrameMessage, transport.MessagePayload{
		ID: "m1", ConversationID: "c1", SenderID: "peer", Body: "hi", CreatedAt: t0.Unix(),
	})
	require.Empty(t, store.TypingUsers("c1"))
	require.Equal(t, []bool{true, false}, signals)
}

func TestOwnTypingEchoIgnored(t *testing.T) {
	ws := newFakeTransport()
	svc, store := newTestService(t, ws, nil)
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	notified := 0
	svc.OnTyping(func(string, string, bool) { notified++ })

	ws.deliver(t, transport.FrameTyping, transport.TypingPayload{ConversationID: "c1", UserID: "me", Active: true})
	require.Empty(t, store.TypingUsers("c1"))
	require.Zero(t, notified)
}

func TestReceiptFrameAppliedMonotonically(t *testing.T) {
	ws := newFakeTransport()
	svc, store := newTestService(t, ws, nil)
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	store.MergeMessage(msg("m1", "c1", "me", t0))
	readAt := t0.Add(time.Minute)
	ws.deliver(t, transport.FrameReadReceipt, transport.ReadReceiptPayload{MessageID: "m1", Read: true, ReadAt: readAt.Unix()})
	ws.deliver(t, transport.FrameReadReceipt, transport.ReadReceiptPayload{MessageID: "m1", Read: false, ReadAt: readAt.Add(time.Minute).Unix()})

	got := store.Messages("c1")[0]
	require.NotNil(t, got.ReadAt)
	require.True(t, got.ReadAt.Equal(readAt))
}

func TestSendChatMessagePrefersChannel(t *testing.T) {
	ws := newFakeTransport()
	restHits := 0
	svc, _ := newTestService(t, ws, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restHits++
	}))
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	require.NoError(t, svc.SendChatMessage(context.Background(), "c1", "hello", KindText))

	frames := ws.sentFrames()
	require.Len(t, frames, 1)
	require.Equal(t, transport.FrameMessage, frames[0].Type)
	var p transport.MessagePayload
	require.NoError(t, transport.DecodePayload(frames[0], &p))
	require.Equal(t, "hello", p.Body)
	require.Zero(t, restHits)
}

func TestSendChatMessageFallsBackToREST(t *testing.T) {
	ws := newFakeTransport()
	ws.sendErr = transport.ErrNotConnected

	svc, store := newTestService(t, ws, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/conversations/c1/messages/", r.URL.Path)
		json.NewEncoder(w).Encode(messageDTO{
			ID: "m1", ConversationID: "c1", SenderID: "me", Body: "hello", Kind: "text", CreatedAt: t0.Unix(),
		})
	}))
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	require.NoError(t, svc.SendChatMessage(context.Background(), "c1", "hello", KindText))
	msgs := store.Messages("c1")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Body)
}

func TestSetTypingAutoStops(t *testing.T) {
	ws := newFakeTransport()
	svc, _ := newTestService(t, ws, nil)
	svc.autoStopAfter = 20 * time.Millisecond
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	require.NoError(t, svc.SetTyping("c1", true))

	require.Eventually(t, func() bool { return len(ws.sentFrames()) == 2 },
		2*time.Second, 5*time.Millisecond)
	frames := ws.sentFrames()
	var first, second transport.TypingPayload
	require.NoError(t, transport.DecodePayload(frames[0], &first))
	require.NoError(t, transport.DecodePayload(frames[1], &second))
	require.True(t, first.Active)
	require.False(t, second.Active)
	require.Equal(t, "me", second.UserID)
}

func TestExplicitStopCancelsAutoStop(t *testing.T) {
	ws := newFakeTransport()
	svc, _ := newTestService(t, ws, nil)
	svc.autoStopAfter = 20 * time.Millisecond
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))

	require.NoError(t, svc.SetTyping("c1", true))
	require.NoError(t, svc.SetTyping("c1", false))

	time.Sleep(60 * time.Millisecond)
	require.Len(t, ws.sentFrames(), 2)
}

func TestHydrateLoadsConversationsAndMessages(t *testing.T) {
	ws := newFakeTransport()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/conversations/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chat/conversations/" {
			json.NewEncoder(w).Encode([]conversationDTO{{
				ID: "c1",
				Participants: [2]participantDTO{
					{ID: "me", DisplayName: "Me"},
					{ID: "peer", DisplayName: "Peer"},
				},
				LastActivityAt: t0.Unix(),
				UnreadCount:    2,
			}})
			return
		}
		json.NewEncoder(w).Encode([]messageDTO{
			{ID: "m2", ConversationID: "c1", SenderID: "peer", Body: "later", CreatedAt: t0.Add(time.Second).Unix()},
			{ID: "m1", ConversationID: "c1", SenderID: "peer", Body: "first", CreatedAt: t0.Unix()},
		})
	})
	svc, store := newTestService(t, ws, mux)

	require.NoError(t, svc.Hydrate(context.Background()))
	require.NoError(t, svc.LoadMessages(context.Background(), "c1"))

	convos := store.Conversations()
	require.Len(t, convos, 1)
	require.Equal(t, 2, convos[0].UnreadCount)
	require.Equal(t, "Peer", convos[0].Other("me").DisplayName)
	require.Equal(t, []string{"m1", "m2"}, ids(store.Messages("c1")))
}

func TestMarkConversationReadHitsServerOnce(t *testing.T) {
	ws := newFakeTransport()
	readCalls := 0
	svc, store := newTestService(t, ws, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/conversations/c1/read/", r.URL.Path)
		readCalls++
	}))
	require.NoError(t, svc.OpenChannel(context.Background(), "me"))
	store.SetConversations([]Conversation{{ID: "c1"}})
	store.MergeMessage(msg("m1", "c1", "peer", t0))

	require.NoError(t, svc.MarkConversationRead(context.Background(), "c1"))
	require.Equal(t, 1, readCalls)

	// Nothing left unread, so no second round trip.
	require.NoError(t, svc.MarkConversationRead(context.Background(), "c1"))
	require.Equal(t, 1, readCalls)
}
