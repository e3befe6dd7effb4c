// Package realtime owns the persistent socket.io channel: connection
// lifecycle, retry budget, auth-rejection handling, room membership and the
// event dispatch registry that multiplexes named server events to handlers.
package realtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/beaconhq/beacon/internal/credential"
)

// State is the connection manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
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
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// socketPath is the socket.io mount point on the server.
	socketPath = "/realtime"

	// maxConnectAttempts bounds consecutive failed handshakes before the
	// manager gives up. The socket.io client's own backoff governs the delay
	// between attempts (1s growing toward a 5s cap).
	maxConnectAttempts = 5

	// handshakeTimeout bounds one connect handshake; expiry counts against
	// the retry budget.
	handshakeTimeout = 10 * time.Second

	// serverDisconnectRetryDelay is the single manual reconnect delay after a
	// server-initiated disconnect (the client lib does not auto-reconnect in
	// that case).
	serverDisconnectRetryDelay = 2 * time.Second

	// forceReconnectDelay is the pause between an explicit disconnect and the
	// reconnect attempt in ForceReconnect.
	forceReconnectDelay = 500 * time.Millisecond

	// signInRedirectDelay is how long after an auth rejection the caller is
	// signalled to redirect to sign-in.
	signInRedirectDelay = 2 * time.Second
)

// ErrInvalidCredential is returned by Connect when no valid token can be
// resolved; the transport is never dialed in that case.
var ErrInvalidCredential = errors.New("no valid credential")

// User is the identity announced on the channel after connecting.
type User struct {
	ID   string
	Name string
	Role string
}

// Status is the surfaced connection state; errors are reported here rather
// than thrown at callers.
type Status struct {
	State    State
	Reason   string
	Attempts int
}

// Manager owns the socket.io connection lifecycle.
type Manager struct {
	serverURL string
	user      User
	clientID  string
	creds     *credential.Resolver
	log       zerolog.Logger

	mu                  sync.Mutex
	socket              *socket.Socket
	dialing             bool
	state               State
	reason              string
	attempts            int
	joinedConversations map[string]struct{}
	joinedRequestRooms  map[string]struct{}
	handshakeTimer      *time.Timer
	reconnectTimer      *time.Timer
	redirectTimer       *time.Timer
	closed              bool

	registry *Registry

	onStatus       func(Status)
	onConnect      func()
	onDisconnect   func(reason string)
	onAuthRejected func()

	// Delays and dialFn are fields so tests can shorten or stub them.
	redirectDelay    time.Duration
	serverRetryDelay time.Duration
	forceDelay       time.Duration
	dialFn           func(token string) error
}

// NewManager creates a connection manager. clientID identifies this process
// instance in the user_join announcement.
func NewManager(serverURL string, user User, clientID string, creds *credential.Resolver, log zerolog.Logger) *Manager {
	m := &Manager{
		serverURL:           strings.TrimRight(serverURL, "/"),
		user:                user,
		clientID:            clientID,
		creds:               creds,
		log:                 log,
		state:               StateDisconnected,
		joinedConversations: make(map[string]struct{}),
		joinedRequestRooms:  make(map[string]struct{}),
		redirectDelay:       signInRedirectDelay,
		serverRetryDelay:    serverDisconnectRetryDelay,
		forceDelay:          forceReconnectDelay,
	}
	m.dialFn = m.dial
	return m
}

// SetStatusListener registers the connection status callback.
func (m *Manager) SetStatusListener(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// SetConnectListener registers the callback fired after each connect.
func (m *Manager) SetConnectListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = fn
}

// SetDisconnectListener registers the callback fired after each disconnect.
func (m *Manager) SetDisconnectListener(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// SetAuthRejectedListener registers the sign-in redirect callback; it fires
// once, shortly after a server-signalled auth rejection.
func (m *Manager) SetAuthRejectedListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthRejected = fn
}

// Connect resolves and validates the credential, then dials the transport.
// An unusable credential fails immediately without touching the network.
func (m *Manager) Connect() error {
	token, ok := m.creds.Resolve()
	if !ok || !credential.Validate(token) {
		if ok {
			// An expired or malformed token is dead weight; clear it so
			// later attempts and REST calls do not keep re-reading it.
			m.creds.ClearAll()
		}
		m.setState(StateFailed, "no valid credential")
		return ErrInvalidCredential
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager closed")
	}
	if m.socket != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	// The socket is only assigned once dial returns; the flag keeps a
	// concurrent Connect from dialing a second transport in the gap.
	m.dialing = true
	m.state = StateConnecting
	m.reason = ""
	dial := m.dialFn
	m.mu.Unlock()
	m.publishStatus()

	err := dial(token)
	m.mu.Lock()
	m.dialing = false
	m.mu.Unlock()
	return err
}

// dial opens the socket.io connection and wires the lifecycle handlers.
func (m *Manager) dial(token string) error {
	opts := socket.DefaultOptions()
	opts.SetPath(socketPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]interface{}{
		"token":    token,
		"clientId": m.clientID,
		"userId":   m.user.ID,
		"role":     m.user.Role,
	})

	sock, err := socket.Connect(m.serverURL, opts)
	if err != nil {
		m.onConnectError(fmt.Sprintf("dial failed: %v", err))
		return fmt.Errorf("failed to connect: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sock.Disconnect()
		return errors.New("manager closed")
	}
	m.socket = sock
	m.armHandshakeTimerLocked()
	registry := m.registry
	m.mu.Unlock()

	sock.On(types.EventName("connect"), func(args ...any) {
		m.onSocketConnect()
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		m.onSocketDisconnect(reason)
	})
	sock.On(types.EventName("connect_error"), func(args ...any) {
		m.onConnectError(stringifyArg(args...))
	})
	sock.On(types.EventName("reconnect"), func(args ...any) {
		m.log.Debug().Str("attempt", stringifyArg(args...)).Msg("transport reconnect")
	})
	sock.On(types.EventName("reconnect_failed"), func(args ...any) {
		m.onConnectError("reconnect budget exhausted")
	})

	if registry != nil {
		registry.attach(sock)
	}
	return nil
}

// armHandshakeTimerLocked schedules the handshake timeout. Call with mu held.
func (m *Manager) armHandshakeTimerLocked() {
	if m.handshakeTimer != nil {
		m.handshakeTimer.Stop()
	}
	m.handshakeTimer = time.AfterFunc(handshakeTimeout, func() {
		m.mu.Lock()
		stale := m.closed || m.state == StateConnected || m.state == StateFailed
		m.mu.Unlock()
		if stale {
			return
		}
		m.onConnectError(fmt.Sprintf("handshake timeout after %s", handshakeTimeout))
	})
}

func (m *Manager) onSocketConnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.state = StateConnected
	m.reason = ""
	if m.handshakeTimer != nil {
		m.handshakeTimer.Stop()
		m.handshakeTimer = nil
	}
	sock := m.socket
	conversations := make([]string, 0, len(m.joinedConversations))
	for id := range m.joinedConversations {
		conversations = append(conversations, id)
	}
	rooms := make([]string, 0, len(m.joinedRequestRooms))
	for id := range m.joinedRequestRooms {
		rooms = append(rooms, id)
	}
	onConnect := m.onConnect
	m.mu.Unlock()

	m.log.Info().Str("user", m.user.ID).Msg("realtime connected")

	if sock != nil {
		sock.Emit("user_join", map[string]interface{}{
			"id":       m.user.ID,
			"name":     m.user.Name,
			"role":     m.user.Role,
			"clientId": m.clientID,
			"ts":       time.Now().UnixMilli(),
		})
		// Re-join rooms held before the reconnect.
		for _, id := range conversations {
			sock.Emit("join_conversation", map[string]interface{}{"conversationId": id})
		}
		for _, id := range rooms {
			sock.Emit("join-request-room", map[string]interface{}{"requestId": id})
		}
	}

	m.publishStatus()
	if onConnect != nil {
		onConnect()
	}
}

func (m *Manager) onSocketDisconnect(reason string) {
	m.mu.Lock()
	if m.closed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.reason = reason
	// The client lib does not auto-reconnect after a server-initiated
	// disconnect; schedule exactly one manual attempt.
	if reason == "io server disconnect" && m.reconnectTimer == nil {
		m.reconnectTimer = time.AfterFunc(m.serverRetryDelay, m.reconnectNow)
	}
	onDisconnect := m.onDisconnect
	m.mu.Unlock()

	m.log.Info().Str("reason", reason).Msg("realtime disconnected")
	m.publishStatus()
	if onDisconnect != nil {
		onDisconnect(reason)
	}
}

// onConnectError handles one failed attempt: auth rejections are terminal,
// anything else burns one unit of the retry budget.
func (m *Manager) onConnectError(msg string) {
	if isAuthRejection(msg) {
		m.rejectAuth()
		return
	}

	m.mu.Lock()
	if m.closed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts >= maxConnectAttempts {
		m.state = StateFailed
		m.reason = fmt.Sprintf("connection failed after %d attempts: %s", m.attempts, msg)
		sock := m.socket
		m.socket = nil
		registry := m.registry
		m.mu.Unlock()

		if registry != nil {
			registry.detach()
		}
		if sock != nil {
			sock.Disconnect()
		}
		m.log.Error().Str("error", msg).Int("attempts", maxConnectAttempts).Msg("realtime gave up")
		m.publishStatus()
		return
	}
	m.state = StateReconnecting
	m.reason = msg
	attempts := m.attempts
	m.mu.Unlock()

	m.log.Warn().Str("error", msg).Int("attempt", attempts).Msg("realtime connect error")
	m.publishStatus()
}

// rejectAuth handles a server-signalled authentication failure: clear the
// credential everywhere, fail terminally and schedule the sign-in redirect.
func (m *Manager) rejectAuth() {
	m.creds.ClearAll()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	alreadyFailed := m.state == StateFailed
	m.state = StateFailed
	m.reason = "authentication failed"
	sock := m.socket
	m.socket = nil
	registry := m.registry
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.handshakeTimer != nil {
		m.handshakeTimer.Stop()
		m.handshakeTimer = nil
	}
	redirect := m.onAuthRejected
	if redirect != nil && !alreadyFailed {
		m.redirectTimer = time.AfterFunc(m.redirectDelay, func() {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if !closed {
				redirect()
			}
		})
	}
	m.mu.Unlock()

	if registry != nil {
		registry.detach()
	}
	if sock != nil {
		sock.Disconnect()
	}
	m.log.Error().Msg("realtime authentication rejected, credential cleared")
	m.publishStatus()
}

// reconnectNow drops the current socket (if any) and dials again. Late timer
// fires after Close or a terminal failure are no-ops.
func (m *Manager) reconnectNow() {
	m.mu.Lock()
	if m.closed || m.state == StateFailed || m.dialing {
		m.mu.Unlock()
		return
	}
	m.dialing = true
	m.reconnectTimer = nil
	sock := m.socket
	m.socket = nil
	m.state = StateReconnecting
	registry := m.registry
	dial := m.dialFn
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
	}()

	if registry != nil {
		registry.detach()
	}
	if sock != nil {
		sock.Disconnect()
	}

	token, ok := m.creds.Resolve()
	if !ok || !credential.Validate(token) {
		m.setState(StateFailed, "no valid credential")
		return
	}
	m.publishStatus()
	if err := dial(token); err != nil {
		m.log.Warn().Err(err).Msg("reconnect dial failed")
	}
}

// ForceReconnect explicitly tears down the connection and dials again after a
// short delay.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sock := m.socket
	m.socket = nil
	m.state = StateDisconnected
	m.reason = "forced reconnect"
	m.attempts = 0
	registry := m.registry
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(m.forceDelay, m.reconnectNow)
	m.mu.Unlock()

	if registry != nil {
		registry.detach()
	}
	if sock != nil {
		sock.Disconnect()
	}
	m.publishStatus()
}

// emit sends an event while Connected; fire-and-forget, no buffering.
func (m *Manager) emit(event string, payload map[string]interface{}) bool {
	m.mu.Lock()
	sock := m.socket
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || sock == nil {
		return false
	}
	sock.Emit(event, payload)
	return true
}

// JoinConversation joins a conversation room. Idempotent; returns false when
// not Connected.
func (m *Manager) JoinConversation(conversationID string) bool {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.joinedConversations[conversationID]; ok {
		m.mu.Unlock()
		return true
	}
	m.joinedConversations[conversationID] = struct{}{}
	m.mu.Unlock()

	return m.emit("join_conversation", map[string]interface{}{"conversationId": conversationID})
}

// LeaveConversation leaves a conversation room; false when not Connected.
func (m *Manager) LeaveConversation(conversationID string) bool {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	delete(m.joinedConversations, conversationID)
	m.mu.Unlock()

	return m.emit("leave_conversation", map[string]interface{}{"conversationId": conversationID})
}

// JoinRequestRoom joins a service-request room. Idempotent; false when not
// Connected.
func (m *Manager) JoinRequestRoom(requestID string) bool {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.joinedRequestRooms[requestID]; ok {
		m.mu.Unlock()
		return true
	}
	m.joinedRequestRooms[requestID] = struct{}{}
	m.mu.Unlock()

	return m.emit("join-request-room", map[string]interface{}{"requestId": requestID})
}

// LeaveRequestRoom leaves a service-request room; false when not Connected.
func (m *Manager) LeaveRequestRoom(requestID string) bool {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return false
	}
	delete(m.joinedRequestRooms, requestID)
	m.mu.Unlock()

	return m.emit("leave-request-room", map[string]interface{}{"requestId": requestID})
}

// UpdateUserStatus broadcasts a presence status change; no-op unless
// Connected.
func (m *Manager) UpdateUserStatus(status string) bool {
	return m.emit("user_status_update", map[string]interface{}{
		"userId": m.user.ID,
		"status": status,
		"ts":     time.Now().UnixMilli(),
	})
}

// IsConnected reports whether the channel is currently up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Status returns the surfaced connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Reason: m.reason, Attempts: m.attempts}
}

// Close tears the connection down and cancels every pending timer. Timers
// firing after Close are guarded no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sock := m.socket
	m.socket = nil
	registry := m.registry
	for _, timer := range []*time.Timer{m.handshakeTimer, m.reconnectTimer, m.redirectTimer} {
		if timer != nil {
			timer.Stop()
		}
	}
	m.handshakeTimer, m.reconnectTimer, m.redirectTimer = nil, nil, nil
	m.state = StateDisconnected
	m.reason = "closed"
	m.mu.Unlock()

	if registry != nil {
		registry.detach()
	}
	if sock != nil {
		sock.Disconnect()
	}
}

func (m *Manager) setState(state State, reason string) {
	m.mu.Lock()
	m.state = state
	m.reason = reason
	m.mu.Unlock()
	m.publishStatus()
}

func (m *Manager) publishStatus() {
	m.mu.Lock()
	onStatus := m.onStatus
	status := Status{State: m.state, Reason: m.reason, Attempts: m.attempts}
	m.mu.Unlock()
	if onStatus != nil {
		onStatus(status)
	}
}

// isAuthRejection distinguishes authentication failures from transport
// errors; the former are terminal and trigger sign-out.
func isAuthRejection(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"401", "unauthorized", "authentication", "invalid token", "jwt"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func stringifyArg(args ...any) string {
	if len(args) == 0 {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	if err, ok := args[0].(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", args[0])
}
