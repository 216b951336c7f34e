package services

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

// PresenceTracker holds the online peer set. It is the only writer of
// presence; every broadcast replaces the set wholesale.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	log    *slog.Logger
}

var _ contracts.PresenceReader = (*PresenceTracker)(nil)

func NewPresenceTracker(log *slog.Logger) *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{}), log: log}
}

func (p *PresenceTracker) Attach(subs *contracts.Subscriptions) {
	subs.On(domain.EventOnlinePeers, p.Apply)
}

// Apply replaces the set with the ids in data. Anything that is not a JSON
// list yields an empty set; non string entries are skipped.
func (p *PresenceTracker) Apply(data json.RawMessage) {
	var raw []any
	next := make(map[string]struct{})
	if err := json.Unmarshal(data, &raw); err != nil {
		p.log.Warn("presence - apply - payload is not a list", logging.Event(domain.EventOnlinePeers), logging.Err(err))
	} else {
		for _, v := range raw {
			id, ok := v.(string)
			if !ok || id == "" {
				continue
			}
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
	p.log.Debug("presence - apply - replaced", slog.Int("online", len(next)))
}

func (p *PresenceTracker) IsOnline(peerID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[peerID]
	return ok
}

// Online returns a sorted snapshot of the set.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.mu.Unlock()
}
