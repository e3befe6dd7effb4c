package realtime

import (
	"sync"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// Handler receives the first event argument decoded as a map, or nil when the
// event carried no object payload.
type Handler func(payload map[string]interface{})

// eventAliases fans role-specific server event names out to a generic
// handler name, so registering once for new_message covers every
// message-shaped event regardless of the sender's role.
var eventAliases = map[string][]string{
	"merchant_new_message": {"new_message"},
	"customer_new_message": {"new_message"},
}

type registration struct {
	handler Handler
	seq     uint64
}

// Registry multiplexes named events to handlers, independent of transport
// state: registrations survive disconnects and are re-bound to each new
// socket.
//
// Registration is last-writer-wins per event name; subscribers replace a
// handler by registering again under the same name.
type Registry struct {
	m *Manager

	mu       sync.RWMutex
	seq      uint64
	handlers map[string]registration
	bound    map[string]bool
	sock     *socket.Socket
}

// NewRegistry creates the dispatch registry for a manager and wires the two
// together.
func NewRegistry(m *Manager) *Registry {
	r := &Registry{
		m:        m,
		handlers: make(map[string]registration),
		bound:    make(map[string]bool),
	}
	m.mu.Lock()
	m.registry = r
	m.mu.Unlock()
	return r
}

// On registers the handler for event, overwriting any prior handler for that
// name, and attaches it to the live transport if connected. The returned
// function unsubscribes; it is a no-op if the registration was already
// overwritten.
func (r *Registry) On(event string, handler Handler) func() {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.handlers[event] = registration{handler: handler, seq: seq}
	sock := r.sock
	needBind := sock != nil && !r.bound[event]
	if needBind {
		r.bound[event] = true
	}
	r.mu.Unlock()

	if needBind {
		r.bindEvent(sock, event)
	}

	return func() {
		r.mu.Lock()
		if cur, ok := r.handlers[event]; ok && cur.seq == seq {
			delete(r.handlers, event)
		}
		r.mu.Unlock()
	}
}

// Off removes the handler for event, whatever its origin.
func (r *Registry) Off(event string) {
	r.mu.Lock()
	delete(r.handlers, event)
	r.mu.Unlock()
}

// Emit sends an event to the server; returns false while not Connected. No
// buffering: a failed emit is dropped.
func (r *Registry) Emit(event string, payload map[string]interface{}) bool {
	return r.m.emit(event, payload)
}

// attach binds the registry to a freshly dialed socket: every registered
// event name plus every alias source gets one socket-level listener routing
// into dispatch. Handler lookups happen at dispatch time, so registrations
// and overwrites after attach need no further socket work.
func (r *Registry) attach(sock *socket.Socket) {
	r.mu.Lock()
	r.sock = sock
	r.bound = make(map[string]bool)
	names := make([]string, 0, len(r.handlers)+len(eventAliases))
	for event := range r.handlers {
		if !r.bound[event] {
			r.bound[event] = true
			names = append(names, event)
		}
	}
	for event := range eventAliases {
		if !r.bound[event] {
			r.bound[event] = true
			names = append(names, event)
		}
	}
	r.mu.Unlock()

	for _, event := range names {
		r.bindEvent(sock, event)
	}
}

// detach forgets the socket; listeners on the old socket die with it.
func (r *Registry) detach() {
	r.mu.Lock()
	r.sock = nil
	r.bound = make(map[string]bool)
	r.mu.Unlock()
}

func (r *Registry) bindEvent(sock *socket.Socket, event string) {
	sock.On(types.EventName(event), func(args ...any) {
		var payload map[string]interface{}
		if len(args) > 0 {
			if mp, ok := args[0].(map[string]interface{}); ok {
				payload = mp
			}
		}
		r.dispatch(event, payload)
	})
}

// dispatch invokes the handler registered for event, then any generic
// handlers the event name aliases to.
func (r *Registry) dispatch(event string, payload map[string]interface{}) {
	r.mu.RLock()
	reg, ok := r.handlers[event]
	var fanout []Handler
	for _, target := range eventAliases[event] {
		if aliased, found := r.handlers[target]; found {
			fanout = append(fanout, aliased.handler)
		}
	}
	r.mu.RUnlock()

	if ok && reg.handler != nil {
		reg.handler(payload)
	}
	for _, handler := range fanout {
		handler(payload)
	}
}
