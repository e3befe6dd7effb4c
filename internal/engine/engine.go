// Package engine wires the realtime channel, the REST client and the
// notification adapters into one facade with a single listener surface.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beaconhq/beacon/internal/api"
	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/credential"
	"github.com/beaconhq/beacon/internal/notification"
	"github.com/beaconhq/beacon/internal/presence"
	"github.com/beaconhq/beacon/internal/realtime"
	"github.com/beaconhq/beacon/internal/storage"
)

const refreshTimeout = 15 * time.Second

// Listener receives engine callbacks. All methods are invoked from a single
// goroutine, in order.
type Listener interface {
	OnNotifications(records []notification.Record, counts notification.Counts)
	OnConnectionState(status realtime.Status)
	OnPresence(userID string, online bool)
	OnTyping(conversationID string, users []string)
	OnSignInRequired()
}

// Snapshot is the engine state handed to callers on demand.
type Snapshot struct {
	Notifications []notification.Record
	Counts        notification.Counts
	IsConnected   bool
}

// pendingOffers narrows the REST client to the offer adapter's needs.
type pendingOffers struct{ c *api.Client }

func (p pendingOffers) PendingOffers(ctx context.Context) ([]api.Offer, error) {
	return p.c.PendingOffers(ctx, "pending")
}

// Engine owns the full client stack: connection manager, event registry,
// presence and typing trackers, the three notification sources and their
// aggregator, plus the disconnected-mode fallback poller.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	api      *api.Client
	creds    *credential.Resolver
	manager  *realtime.Manager
	registry *realtime.Registry
	tracker  *presence.Tracker
	typing   *presence.Typing
	agg      *notification.Aggregator
	poller   *notification.Poller
	chats    *notification.ChatAdapter
	offers   *notification.OfferAdapter
	push     *notification.RealtimeAdapter
	fallback *notification.FallbackScheduler
	disp     *dispatcher

	mu       sync.RWMutex
	listener Listener
}

// New assembles the engine. Start arms it.
func New(cfg *config.Config, store *storage.Store, creds *credential.Resolver, user realtime.User, clientID string, log zerolog.Logger) *Engine {
	e := &Engine{
		cfg:   cfg,
		log:   log,
		creds: creds,
		disp:  newDispatcher(0),
	}

	e.api = api.New(cfg.ServerURL, creds.Resolve)
	e.manager = realtime.NewManager(cfg.ServerURL, user, clientID, creds, log.With().Str("component", "realtime").Logger())
	e.registry = realtime.NewRegistry(e.manager)
	e.tracker = presence.NewTracker()
	e.typing = presence.NewTyping(user.ID, presence.DefaultTypingExpiry, e.registry.Emit)

	nlog := log.With().Str("component", "notification").Logger()
	e.agg = notification.NewAggregator(nlog)
	e.poller = notification.NewPoller(e.api, e.agg, nlog)
	e.chats = notification.NewChatAdapter(e.api, e.agg, cfg.Role, nlog)
	e.offers = notification.NewOfferAdapter(pendingOffers{e.api}, e.agg, store, notification.OfferPolicy{
		ValueThreshold:  cfg.OfferValueThreshold,
		RatingThreshold: cfg.OfferRatingThreshold,
		Freshness:       cfg.OfferFreshness,
	}, nlog)
	e.push = notification.NewRealtimeAdapter(e.agg, nlog)
	e.fallback = notification.NewFallbackScheduler(e.manager.IsConnected, e.poller.Poll, nlog)

	e.wireManager()
	e.wireEvents()
	return e
}

// SetListener installs the callback sink. Pass nil to detach.
func (e *Engine) SetListener(l Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// Start connects the realtime channel and arms the fallback poller. A
// missing or expired credential fails fast without dialing.
func (e *Engine) Start() error {
	if err := e.manager.Connect(); err != nil {
		return err
	}
	if err := e.fallback.Start(); err != nil {
		return fmt.Errorf("start fallback poller: %w", err)
	}
	return nil
}

// Snapshot returns the current merged view and connection state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Notifications: e.agg.Notifications(),
		Counts:        e.agg.Counts(),
		IsConnected:   e.manager.IsConnected(),
	}
}

// MarkRead marks one notification read locally and, for server-backed
// records, best-effort on the server. Unknown ids are an error; a failed
// server call is logged, not surfaced, since the next poll reconciles.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	if !e.agg.MarkRead(id) {
		return fmt.Errorf("unknown notification %q", id)
	}
	e.offers.MarkViewed(id)
	if !isDerivedID(id) {
		if err := e.api.MarkRead(ctx, id); err != nil {
			e.log.Warn().Err(err).Str("id", id).Msg("server mark-read failed")
		}
	}
	e.publish()
	return nil
}

// MarkAllRead clears every unread counter locally and best-effort on the
// server.
func (e *Engine) MarkAllRead(ctx context.Context) {
	e.agg.MarkAllRead()
	if err := e.api.MarkAllRead(ctx, ""); err != nil {
		e.log.Warn().Err(err).Msg("server mark-all-read failed")
	}
	e.publish()
}

// Send emits a raw event over the realtime channel. Returns false while
// disconnected; there is no offline queue.
func (e *Engine) Send(event string, payload map[string]interface{}) bool {
	return e.registry.Emit(event, payload)
}

// SendMessage emits a chat message over the realtime channel.
func (e *Engine) SendMessage(conversationID, content string) bool {
	return e.Send("send_message", map[string]interface{}{
		"conversationId": conversationID,
		"content":        content,
	})
}

// HandleTyping forwards a local typing action; see presence.Typing.
func (e *Engine) HandleTyping(conversationID, action string) func() {
	return e.typing.HandleTyping(conversationID, action)
}

// TypingUsers lists remote users currently typing in a conversation.
func (e *Engine) TypingUsers(conversationID string) []string {
	return e.typing.TypingUsers(conversationID)
}

// IsOnline reports last known presence for a user.
func (e *Engine) IsOnline(userID string) bool { return e.tracker.IsOnline(userID) }

// OnlineUsers lists users currently known online.
func (e *Engine) OnlineUsers() []string { return e.tracker.OnlineUsers() }

func (e *Engine) JoinConversation(id string) bool  { return e.manager.JoinConversation(id) }
func (e *Engine) LeaveConversation(id string) bool { return e.manager.LeaveConversation(id) }
func (e *Engine) JoinRequestRoom(id string) bool   { return e.manager.JoinRequestRoom(id) }
func (e *Engine) LeaveRequestRoom(id string) bool  { return e.manager.LeaveRequestRoom(id) }

// UpdateUserStatus broadcasts the local availability status.
func (e *Engine) UpdateUserStatus(status string) bool { return e.manager.UpdateUserStatus(status) }

// ForceReconnect tears the socket down and redials.
func (e *Engine) ForceReconnect() { e.manager.ForceReconnect() }

// IsConnected reports the realtime channel state.
func (e *Engine) IsConnected() bool { return e.manager.IsConnected() }

// On registers an additional raw event handler; see realtime.Registry.
func (e *Engine) On(event string, handler realtime.Handler) func() {
	return e.registry.On(event, handler)
}

// RefreshChats recomputes the derived chat notifications.
func (e *Engine) RefreshChats(ctx context.Context) error {
	if err := e.chats.Refresh(ctx); err != nil {
		return err
	}
	e.publish()
	return nil
}

// RefreshOffers recomputes the derived offer notifications.
func (e *Engine) RefreshOffers(ctx context.Context) error {
	if err := e.offers.Refresh(ctx); err != nil {
		return err
	}
	e.publish()
	return nil
}

// Poll forces a baseline refresh from the REST API.
func (e *Engine) Poll(ctx context.Context) error {
	if err := e.poller.Poll(ctx); err != nil {
		return err
	}
	e.publish()
	return nil
}

// Close shuts the engine down: poller, typing timers, socket, callbacks.
func (e *Engine) Close() {
	e.fallback.Stop()
	e.typing.Close()
	e.manager.Close()
	if err := e.api.Close(); err != nil {
		e.log.Debug().Err(err).Msg("api client close")
	}
	e.disp.stop()
}

func (e *Engine) wireManager() {
	e.manager.SetStatusListener(func(status realtime.Status) {
		e.disp.do(func() {
			if l := e.currentListener(); l != nil {
				l.OnConnectionState(status)
			}
		})
	})
	e.manager.SetConnectListener(func() {
		// The socket was down for an unknown stretch; resync everything.
		go e.refreshAll()
	})
	e.manager.SetDisconnectListener(func(reason string) {
		// Presence is only trustworthy while the socket is live.
		e.tracker.Reset()
	})
	e.manager.SetAuthRejectedListener(func() {
		e.disp.do(func() {
			if l := e.currentListener(); l != nil {
				l.OnSignInRequired()
			}
		})
	})
}

func (e *Engine) wireEvents() {
	e.registry.On("user_online", func(payload map[string]interface{}) {
		e.presenceChanged(payloadString(payload, "userId"), true)
	})
	e.registry.On("user_offline", func(payload map[string]interface{}) {
		e.presenceChanged(payloadString(payload, "userId"), false)
	})
	statusUpdate := func(payload map[string]interface{}) {
		online, _ := payload["isOnline"].(bool)
		e.presenceChanged(payloadString(payload, "userId"), online)
	}
	e.registry.On("merchant_status_update", statusUpdate)
	e.registry.On("customer_status_update", statusUpdate)

	e.registry.On("typing_start", func(payload map[string]interface{}) {
		conversationID := payloadString(payload, "conversationId")
		e.typing.HandleRemoteStart(conversationID, payloadString(payload, "userId"))
		e.typingChanged(conversationID)
	})
	e.registry.On("typing_stop", func(payload map[string]interface{}) {
		conversationID := payloadString(payload, "conversationId")
		e.typing.HandleRemoteStop(conversationID, payloadString(payload, "userId"))
		e.typingChanged(conversationID)
	})

	// merchant_new_message and customer_new_message alias onto new_message
	// inside the registry.
	e.registry.On("new_message", func(payload map[string]interface{}) {
		e.push.Handle("new_message", payload)
		e.publish()
	})
	e.registry.On("offer:new", func(payload map[string]interface{}) {
		e.push.Handle("offer:new", payload)
		e.publish()
	})
	e.registry.On("service-request:new", func(payload map[string]interface{}) {
		e.push.Handle("service-request:new", payload)
		e.publish()
	})
	e.registry.On("request-room-joined", func(payload map[string]interface{}) {
		e.log.Debug().
			Str("requestId", payloadString(payload, "requestId")).
			Msg("request room joined")
	})
	e.registry.On("message_status_update", func(payload map[string]interface{}) {
		e.log.Debug().
			Str("messageId", payloadString(payload, "messageId")).
			Str("status", payloadString(payload, "status")).
			Msg("message status update")
	})
}

// refreshAll resyncs every source after a (re)connect. Partial failures keep
// whatever state the failing source had.
func (e *Engine) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := e.poller.Poll(ctx); err != nil {
		e.log.Warn().Err(err).Msg("baseline refresh failed")
	}
	if err := e.chats.Refresh(ctx); err != nil {
		e.log.Warn().Err(err).Msg("chat refresh failed")
	}
	if err := e.offers.Refresh(ctx); err != nil {
		e.log.Warn().Err(err).Msg("offer refresh failed")
	}
	e.publish()
}

func (e *Engine) presenceChanged(userID string, online bool) {
	if userID == "" {
		return
	}
	e.tracker.HandleStatusUpdate(userID, online)
	e.disp.do(func() {
		if l := e.currentListener(); l != nil {
			l.OnPresence(userID, online)
		}
	})
}

func (e *Engine) typingChanged(conversationID string) {
	if conversationID == "" {
		return
	}
	users := e.typing.TypingUsers(conversationID)
	e.disp.do(func() {
		if l := e.currentListener(); l != nil {
			l.OnTyping(conversationID, users)
		}
	})
}

func (e *Engine) publish() {
	records := e.agg.Notifications()
	counts := e.agg.Counts()
	e.disp.do(func() {
		if l := e.currentListener(); l != nil {
			l.OnNotifications(records, counts)
		}
	})
}

func (e *Engine) currentListener() Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listener
}

// isDerivedID reports whether a notification id is synthesized locally and
// therefore unknown to the server.
func isDerivedID(id string) bool {
	for _, prefix := range []string{"chat-", "offer-", "request-", "message-"} {
		if len(id) > len(prefix) && id[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
