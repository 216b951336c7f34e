package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/metrics"
	"tutorlink/pkg/logging"
)

type entry struct {
	id uint64
	h  contracts.Handler
}

// Registry is the event bus behind the socket handle. Handlers live here
// across reconnects; the physical connection is attached and detached by the
// connection manager. Frames are dispatched in arrival order on the caller's
// goroutine, which is the transport read loop.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   uint64
	conn     contracts.Conn
	gen      uint64
	log      *slog.Logger
	metrics  *metrics.Metrics
}

var _ contracts.Socket = (*Registry)(nil)

func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		handlers: make(map[string][]entry),
		log:      log,
		metrics:  m,
	}
}

func (r *Registry) On(event string, h contracts.Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[event] = append(r.handlers[event], entry{id: id, h: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.handlers[event]
			for i, e := range list {
				if e.id == id {
					r.handlers[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(r.handlers[event]) == 0 {
				delete(r.handlers, event)
			}
		})
	}
}

func (r *Registry) Emit(ctx context.Context, event string, payload any) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		r.log.WarnContext(ctx, "registry - emit - not connected", logging.Event(event))
		return domain.ErrNotConnected
	}
	frame, err := domain.Encode(event, payload)
	if err != nil {
		return domain.InvalidArguments("unencodable " + event + " payload: " + err.Error())
	}
	if err := conn.WriteMessage(frame); err != nil {
		r.log.ErrorContext(ctx, "registry - emit - write failed", logging.Event(event), logging.Err(err))
		return domain.Transport("emit "+event, err)
	}
	r.log.DebugContext(ctx, "registry - emit - sent", logging.Event(event))
	return nil
}

func (r *Registry) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil
}

// Attach makes conn the live connection and returns its generation.
// Frames dispatched with an older generation are dropped.
func (r *Registry) Attach(conn contracts.Conn) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.conn = conn
	return r.gen
}

// Detach clears the live connection if it still belongs to gen.
func (r *Registry) Detach(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.conn = nil
	}
}

// Reset drops every handler and the live connection. Used when the actor
// changes so nothing registered for the previous actor can fire again.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.conn = nil
	r.handlers = make(map[string][]entry)
}

func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch decodes one frame of connection gen and runs its handlers.
func (r *Registry) Dispatch(gen uint64, frame []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		r.metrics.EventDropped("unknown")
		r.log.Warn("registry - dispatch - undecodable frame", logging.Err(err))
		return
	}
	r.DispatchEvent(gen, env.Type, env.Data)
}

// DispatchEvent runs the handlers of event if gen is still current.
func (r *Registry) DispatchEvent(gen uint64, event string, data json.RawMessage) {
	r.mu.RLock()
	if gen != r.gen {
		r.mu.RUnlock()
		r.log.Debug("registry - dispatch - stale generation", logging.Event(event))
		return
	}
	list := make([]contracts.Handler, 0, len(r.handlers[event]))
	for _, e := range r.handlers[event] {
		list = append(list, e.h)
	}
	r.mu.RUnlock()

	r.metrics.EventReceived(event)
	if len(list) == 0 {
		r.log.Debug("registry - dispatch - no handler", logging.Event(event))
		return
	}
	for _, h := range list {
		h(data)
	}
}
