package services

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

type ISidebar interface {
	// Refresh replaces the contact list. A refresh overtaken by a newer one
	// returns ErrStaleResult and is not applied.
	Refresh(ctx context.Context, actorID, search string) ([]domain.ContactView, error)
	Contacts() []domain.ContactView
	Contact(peerID string) (domain.ContactView, bool)
	TotalUnread() int
	Reset()
}

// Sidebar is the room list view. It keeps the per peer unread counter and
// the read state of my latest outgoing message.
type Sidebar struct {
	mu       sync.Mutex
	log      *slog.Logger
	api      domain.ContactAPI
	presence contracts.PresenceReader

	contacts []domain.Contact
	index    map[string]int
	token    uint64
}

var _ ISidebar = (*Sidebar)(nil)

func NewSidebar(log *slog.Logger, api domain.ContactAPI, presence contracts.PresenceReader) *Sidebar {
	return &Sidebar{
		log:      log,
		api:      api,
		presence: presence,
		index:    make(map[string]int),
	}
}

func (s *Sidebar) Refresh(ctx context.Context, actorID, search string) ([]domain.ContactView, error) {
	ctx, span := tracer.Start(ctx, "Sidebar.Refresh", trace.WithAttributes(
		attribute.String("actor.id", actorID),
	))
	defer span.End()

	if actorID == "" {
		err := domain.InvalidArguments("refresh requires an actor id")
		span.RecordError(err)
		return nil, err
	}
	s.mu.Lock()
	s.token++
	token := s.token
	s.mu.Unlock()

	contacts, err := s.api.FetchContacts(ctx, actorID, search)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch contacts failed")
		s.log.ErrorContext(ctx, "sidebar - refresh - fetch contacts failed", logging.Actor(actorID), logging.Err(err))
		return nil, err
	}

	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "sidebar - refresh - stale result dropped", logging.Actor(actorID))
		return nil, domain.ErrStaleResult
	}
	s.contacts = make([]domain.Contact, 0, len(contacts))
	s.index = make(map[string]int, len(contacts))
	for _, c := range contacts {
		if c.ID == "" {
			continue
		}
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		s.index[c.ID] = len(s.contacts)
		s.contacts = append(s.contacts, c)
	}
	s.mu.Unlock()

	s.log.InfoContext(ctx, "sidebar - refresh - success", logging.Actor(actorID), slog.Int("contacts", len(contacts)))
	return s.Contacts(), nil
}

func (s *Sidebar) Contacts() []domain.ContactView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ContactView, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, s.view(c))
	}
	return out
}

func (s *Sidebar) Contact(peerID string) (domain.ContactView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[peerID]
	if !ok {
		return domain.ContactView{}, false
	}
	return s.view(s.contacts[i]), true
}

// PeerForRoom returns the contact whose conversation is roomID.
func (s *Sidebar) PeerForRoom(roomID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.RoomID == roomID {
			return c.ID, true
		}
	}
	return "", false
}

func (s *Sidebar) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.contacts {
		n += c.UnreadCount
	}
	return n
}

// ClearUnread zeroes the counter of peerID after I have read its messages.
func (s *Sidebar) ClearUnread(peerID string) {
	s.update(peerID, "", func(c *domain.Contact) { c.UnreadCount = 0 })
}

// IncomingMessage records a peer message for a room that is not open.
func (s *Sidebar) IncomingMessage(peerID string, msg domain.Message) {
	s.update(peerID, msg.RoomID, func(c *domain.Contact) {
		c.UnreadCount++
		c.LastMessage = msg.Summary()
		c.LastMessageRead = false
		c.LastMessageAt = msg.CreatedAt
	})
}

// SeenMessage records a peer message shown in the open conversation. The
// counter is left alone; the conversation view owns that message.
func (s *Sidebar) SeenMessage(peerID string, msg domain.Message) {
	s.update(peerID, msg.RoomID, func(c *domain.Contact) {
		c.LastMessage = msg.Summary()
		c.LastMessageAt = msg.CreatedAt
	})
}

// OutgoingMessage records a message I sent to peerID, not yet read by it.
func (s *Sidebar) OutgoingMessage(peerID string, msg domain.Message) {
	s.update(peerID, msg.RoomID, func(c *domain.Contact) {
		c.LastMessage = msg.Summary()
		c.LastMessageRead = false
		c.LastMessageAt = msg.CreatedAt
	})
}

// PeerRead records that peerID has read my latest outgoing message.
func (s *Sidebar) PeerRead(peerID string) {
	s.update(peerID, "", func(c *domain.Contact) { c.LastMessageRead = true })
}

func (s *Sidebar) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	s.contacts = nil
	s.index = make(map[string]int)
}

// update applies fn to the entry of peerID, creating a bare entry when the
// peer is not listed yet so no event is lost before the next refresh.
func (s *Sidebar) update(peerID, roomID string, fn func(*domain.Contact)) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[peerID]
	if !ok {
		s.index[peerID] = len(s.contacts)
		s.contacts = append(s.contacts, domain.Contact{ID: peerID, RoomID: roomID})
		i = len(s.contacts) - 1
	}
	c := &s.contacts[i]
	if roomID != "" && c.RoomID == "" {
		c.RoomID = roomID
	}
	fn(c)
}

func (s *Sidebar) view(c domain.Contact) domain.ContactView {
	c.Avatar = c.AvatarOrDefault()
	online := false
	if s.presence != nil {
		online = s.presence.IsOnline(c.ID)
	}
	return domain.ContactView{Contact: c, IsOnline: online}
}
