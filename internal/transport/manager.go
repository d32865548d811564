package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/chatterbox-im/chatterbox/internal/logging"
)

// State is the connection lifecycle phase exposed to observers.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrUnauthenticated is returned by Connect when no access credential
	// is available to present during the handshake.
	ErrUnauthenticated = errors.New("transport: no access credential")
	// ErrNotConnected is returned by Send outside the Connected state.
	// Frames are never buffered for a future connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrReconnectExhausted reports that the automatic reconnect ceiling
	// was reached and the manager gave up.
	ErrReconnectExhausted = errors.New("transport: reconnect attempts exhausted")
)

const (
	reconnectBaseDelay   = 1 * time.Second
	reconnectMaxDelay    = 30 * time.Second
	maxReconnectAttempts = 5

	defaultConnectTimeout = 15 * time.Second
	defaultPingInterval   = 25 * time.Second
	writeWait             = 10 * time.Second
)

// TokenSource supplies the current access credential for the handshake.
// session.Guard satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Conn is the subset of *websocket.Conn the manager needs. Tests swap in
// an in-process fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a websocket connection to the given URL.
type Dialer func(ctx context.Context, rawURL string) (Conn, error)

func gorillaDialer(handshakeTimeout time.Duration) Dialer {
	return func(ctx context.Context, rawURL string) (Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, resp, err := d.DialContext(ctx, rawURL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, err
		}
		return conn, nil
	}
}

// Status is delivered to state observers on every transition.
type Status struct {
	State    State
	Attempts int
	Err      error
}

// FrameHandler receives inbound frames of the type it subscribed to.
type FrameHandler func(Frame)

// StateHandler receives connection state transitions.
type StateHandler func(Status)

// Options tunes a Manager. The zero value picks sensible defaults.
type Options struct {
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	Dialer         Dialer
}

// Manager owns a single websocket connection to the chat gateway: it
// authenticates the handshake, dispatches inbound frames to subscribers
// and transparently reconnects after unclean closes with exponential
// backoff. All methods are safe for concurrent use.
type Manager struct {
	rawURL         string
	tokens         TokenSource
	dial           Dialer
	log            logging.Logger
	connectTimeout time.Duration
	pingInterval   time.Duration

	newBackoff func() retry.Backoff

	mu             sync.Mutex
	state          State
	attempts       int
	conn           Conn
	gen            int
	manualClose    bool
	reconnectTimer *time.Timer
	backoff        retry.Backoff

	writeMu sync.Mutex

	handlers  map[FrameType]map[int]FrameHandler
	stateSubs map[int]StateHandler
	nextID    int

	statusQ   []statusNotice
	notifying bool
}

type statusNotice struct {
	status Status
	subs   []StateHandler
}

// NewManager builds a manager for the given gateway URL. It does not
// connect; call Connect once a session exists.
func NewManager(rawURL string, tokens TokenSource, log logging.Logger, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = gorillaDialer(opts.ConnectTimeout)
	}
	m := &Manager{
		rawURL:         rawURL,
		tokens:         tokens,
		dial:           opts.Dialer,
		log:            log,
		connectTimeout: opts.ConnectTimeout,
		pingInterval:   opts.PingInterval,
		newBackoff:     newReconnectBackoff,
		handlers:       make(map[FrameType]map[int]FrameHandler),
		stateSubs:      make(map[int]StateHandler),
	}
	m.backoff = m.newBackoff()
	return m
}

func newReconnectBackoff() retry.Backoff {
	return retry.WithMaxRetries(maxReconnectAttempts,
		retry.WithCappedDuration(reconnectMaxDelay,
			retry.NewExponential(reconnectBaseDelay)))
}

// State reports the current connection phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the websocket connection. It is a no-op while a
// connection attempt is in flight or a connection is live. It fails with
// ErrUnauthenticated when no access credential is available, without
// touching the connection state.
func (m *Manager) Connect(ctx context.Context) error {
	token, ok := m.tokens.AccessToken(ctx)
	if !ok {
		return ErrUnauthenticated
	}

	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.manualClose = false
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()
	conn, err := m.dial(dialCtx, m.handshakeURL(token))
	if err != nil {
		m.handleClosed(-1, err)
		return err
	}

	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.attempts = 0
	m.backoff = m.newBackoff()
	m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	go m.pingLoop(conn, gen)
	return nil
}

func (m *Manager) handshakeURL(token string) string {
	u, err := url.Parse(m.rawURL)
	if err != nil {
		return m.rawURL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Disconnect closes the connection deliberately. A deliberate close never
// triggers reconnection, and any pending reconnect attempt is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	if conn == nil && m.state != StateDisconnected {
		m.attempts = 0
		m.setStateLocked(StateDisconnected, nil)
	}
	m.mu.Unlock()

	if conn != nil {
		// The read loop observes the close and finishes the transition.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// Send delivers a frame over the live connection. It never buffers: when
// the connection is down the frame is rejected with ErrNotConnected.
func (m *Manager) Send(f Frame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// OnFrame subscribes a handler to frames of the given type. The returned
// id unsubscribes via OffFrame.
func (m *Manager) OnFrame(t FrameType, h FrameHandler) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.handlers[t] == nil {
		m.handlers[t] = make(map[int]FrameHandler)
	}
	m.handlers[t][m.nextID] = h
	return m.nextID
}

// OffFrame removes a frame subscription.
func (m *Manager) OffFrame(t FrameType, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers[t], id)
}

// OnStateChange subscribes to connection state transitions.
func (m *Manager) OnStateChange(h StateHandler) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.stateSubs[m.nextID] = h
	return m.nextID
}

// OffStateChange removes a state subscription.
func (m *Manager) OffStateChange(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stateSubs, id)
}

// setStateLocked updates the state and queues observer notifications.
// Callers hold mu; handlers run off a single drainer goroutine so they see
// transitions in order and may call back into the manager.
func (m *Manager) setStateLocked(s State, err error) {
	m.state = s
	subs := make([]StateHandler, 0, len(m.stateSubs))
	for _, h := range m.stateSubs {
		subs = append(subs, h)
	}
	m.statusQ = append(m.statusQ, statusNotice{
		status: Status{State: s, Attempts: m.attempts, Err: err},
		subs:   subs,
	})
	if !m.notifying {
		m.notifying = true
		go m.drainStatus()
	}
}

func (m *Manager) drainStatus() {
	for {
		m.mu.Lock()
		if len(m.statusQ) == 0 {
			m.notifying = false
			m.mu.Unlock()
			return
		}
		n := m.statusQ[0]
		m.statusQ = m.statusQ[1:]
		m.mu.Unlock()
		for _, h := range n.subs {
			h(n.status)
		}
	}
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.dispatch(data)
	}
}

// dispatch decodes one inbound frame and fans it out to subscribers on the
// read loop goroutine, preserving arrival order.
func (m *Manager) dispatch(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		m.log.Warn(context.Background(), "dropping undecodable frame", "error", err)
		return
	}

	switch f.Type {
	case FrameMessage, FrameTyping, FrameReadReceipt, FramePong, FrameError, FrameConnected:
	case FramePing:
		pong, _ := NewFrame(FramePong, nil)
		if err := m.Send(pong); err != nil {
			m.log.Warn(context.Background(), "pong reply failed", "error", err)
		}
	default:
		m.log.Warn(context.Background(), "dropping frame of unknown type", "type", string(f.Type))
		return
	}

	m.mu.Lock()
	subs := make([]FrameHandler, 0, len(m.handlers[f.Type]))
	for _, h := range m.handlers[f.Type] {
		subs = append(subs, h)
	}
	m.mu.Unlock()
	for _, h := range subs {
		h(f)
	}
}

// pingLoop keeps intermediaries from idling the connection out. A missed
// pong is not treated as a failure; a dead peer surfaces as a read error.
func (m *Manager) pingLoop(conn Conn, gen int) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		stale := m.gen != gen || m.conn == nil
		m.mu.Unlock()
		if stale {
			return
		}
		conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
}

// handleClosed runs after a connection attempt fails or a live connection
// drops. gen guards against a stale read loop racing a newer connection.
func (m *Manager) handleClosed(gen int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen >= 0 && gen != m.gen {
		return
	}
	m.conn = nil

	if m.manualClose {
		m.attempts = 0
		m.setStateLocked(StateDisconnected, nil)
		return
	}

	delay, stop := m.backoff.Next()
	if stop {
		m.log.Error(context.Background(), "giving up on reconnect", "attempts", m.attempts, "error", cause)
		m.attempts = 0
		m.backoff = m.newBackoff()
		m.setStateLocked(StateDisconnected, ErrReconnectExhausted)
		return
	}

	m.attempts++
	m.log.Info(context.Background(), "connection lost, reconnecting",
		"attempt", m.attempts, "delay", delay.String(), "error", cause)
	m.setStateLocked(StateReconnecting, cause)
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
}

// reconnect fires from the backoff timer.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.manualClose || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout)
	defer cancel()

	token, ok := m.tokens.AccessToken(ctx)
	if !ok {
		m.handleClosed(-1, ErrUnauthenticated)
		return
	}
	conn, err := m.dial(ctx, m.handshakeURL(token))
	if err != nil {
		m.handleClosed(-1, err)
		return
	}

	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.attempts = 0
	m.backoff = m.newBackoff()
	m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	go m.pingLoop(conn, gen)
}
