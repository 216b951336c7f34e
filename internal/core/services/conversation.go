package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/metrics"
	"tutorlink/pkg/logging"
)

type IConversationStore interface {
	// LoadRoom opens roomID for selfID. When the fetch fails and a peer hint
	// is given, the room is resolved by peer instead.
	LoadRoom(ctx context.Context, roomID, selfID string, opts ...LoadOption) (*domain.Room, error)
	// SendMessage appends the optimistic copy, then emits it.
	SendMessage(ctx context.Context, roomID, senderID, recipientID, payload string, typ domain.MessageType) (domain.Message, error)
	VisibilityChanged(ctx context.Context, visible bool)
	Messages() []domain.Message
	IsLoading() bool
	Reset()
}

type loadOptions struct {
	peerHint string
}

type LoadOption func(*loadOptions)

// WithPeerHint names the peer when it is known apart from the room id, so a
// stale room id can be recovered by resolving the pair.
func WithPeerHint(peerID string) LoadOption {
	return func(o *loadOptions) { o.peerHint = peerID }
}

type openRoom struct {
	id       string
	peer     string
	messages []domain.Message
}

// ConversationStore owns the open conversation and routes chat events
// between it and the sidebar. It is the single writer of unread and read
// state.
type ConversationStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	api     domain.RoomAPI
	sock    contracts.Socket
	rooms   *RoomDirectory
	sidebar *Sidebar
	metrics *metrics.Metrics

	self      string
	open      *openRoom
	selection uint64
	loading   bool
	visible   bool
}

var _ IConversationStore = (*ConversationStore)(nil)

func NewConversationStore(
	log *slog.Logger,
	api domain.RoomAPI,
	sock contracts.Socket,
	rooms *RoomDirectory,
	sidebar *Sidebar,
	m *metrics.Metrics,
) *ConversationStore {
	return &ConversationStore{
		log:     log,
		api:     api,
		sock:    sock,
		rooms:   rooms,
		sidebar: sidebar,
		metrics: m,
		visible: true,
	}
}

// Bind sets the actor whose view this store holds.
func (c *ConversationStore) Bind(selfID string) {
	c.mu.Lock()
	c.self = selfID
	c.mu.Unlock()
}

func (c *ConversationStore) Attach(subs *contracts.Subscriptions) {
	subs.On(domain.EventNewMessage, c.handleNewMessage)
	subs.On(domain.EventRoomRead, c.handleRoomRead)
	subs.On(domain.EventMessageAck, c.handleMessageAck)
	subs.On(domain.EventConnect, c.handleConnect)
}

func (c *ConversationStore) LoadRoom(ctx context.Context, roomID, selfID string, opts ...LoadOption) (*domain.Room, error) {
	ctx, span := tracer.Start(ctx, "ConversationStore.LoadRoom", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("actor.id", selfID),
	))
	defer span.End()

	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if selfID == "" || (roomID == "" && o.peerHint == "") {
		err := domain.InvalidArguments("load room requires a self id and a room id or peer")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid arguments")
		return nil, err
	}

	c.mu.Lock()
	c.selection++
	token := c.selection
	c.loading = true
	c.mu.Unlock()

	room, resolved, err := c.fetch(ctx, roomID, selfID, o.peerHint)
	if err != nil {
		c.finishLoad(token)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		c.log.ErrorContext(ctx, "conversation - load room - failed", logging.Room(roomID), logging.Actor(selfID), logging.Err(err))
		return nil, err
	}
	peer, err := room.OtherParticipant(selfID)
	if err != nil {
		c.finishLoad(token)
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed room")
		c.log.ErrorContext(ctx, "conversation - load room - malformed room", logging.Room(room.ID), logging.Err(err))
		return nil, err
	}

	messages := make([]domain.Message, len(room.Messages))
	copy(messages, room.Messages)
	for i := range messages {
		if messages[i].RoomID == "" {
			messages[i].RoomID = room.ID
		}
		// Opening the room reads everything the peer sent.
		if messages[i].SenderID == peer {
			messages[i].IsRead = true
		}
	}

	c.mu.Lock()
	if token != c.selection {
		c.mu.Unlock()
		c.log.DebugContext(ctx, "conversation - load room - stale result dropped", logging.Room(room.ID))
		return nil, domain.ErrStaleResult
	}
	c.self = selfID
	c.open = &openRoom{id: room.ID, peer: peer, messages: messages}
	c.loading = false
	snapshot := append([]domain.Message(nil), messages...)
	c.mu.Unlock()

	if err := c.sock.Emit(ctx, domain.EventJoinedRoom, domain.JoinedRoomPayload{RoomID: room.ID}); err != nil {
		c.log.WarnContext(ctx, "conversation - load room - joined room not sent", logging.Room(room.ID), logging.Err(err))
	}
	if !resolved {
		c.rooms.remember(ctx, selfID, peer, room.ID)
		if err := c.rooms.MarkRead(ctx, room.ID, selfID, peer); err != nil {
			c.log.WarnContext(ctx, "conversation - load room - mark read not sent", logging.Room(room.ID), logging.Err(err))
		}
	}

	out := *room
	out.Messages = snapshot
	c.log.InfoContext(ctx, "conversation - load room - success", logging.Room(room.ID), logging.Peer(peer), slog.Int("messages", len(messages)))
	return &out, nil
}

// fetch loads roomID, falling back to resolving by peer. resolved reports
// that the fallback ran, which has already remembered and marked the room.
func (c *ConversationStore) fetch(ctx context.Context, roomID, selfID, peerHint string) (*domain.Room, bool, error) {
	if roomID != "" {
		room, err := c.api.FetchRoom(ctx, roomID, selfID)
		if err == nil && room != nil {
			return room, false, nil
		}
		if peerHint == "" {
			if err == nil {
				err = domain.NotFound("room " + roomID + " not found")
			}
			return nil, false, err
		}
		c.log.WarnContext(ctx, "conversation - load room - fetch failed, resolving by peer", logging.Room(roomID), logging.Peer(peerHint), logging.Err(err))
	}
	resolved, err := c.rooms.Resolve(ctx, peerHint, selfID)
	if err != nil {
		return nil, false, err
	}
	room, err := c.api.FetchRoom(ctx, resolved.ID, selfID)
	if err != nil {
		return nil, false, err
	}
	if room == nil {
		return resolved, true, nil
	}
	return room, true, nil
}

func (c *ConversationStore) finishLoad(token uint64) {
	c.mu.Lock()
	if token == c.selection {
		c.loading = false
	}
	c.mu.Unlock()
}

func (c *ConversationStore) SendMessage(
	ctx context.Context,
	roomID, senderID, recipientID, payload string,
	typ domain.MessageType,
) (domain.Message, error) {
	ctx, span := tracer.Start(ctx, "ConversationStore.SendMessage", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("recipient.id", recipientID),
	))
	defer span.End()

	if typ == "" {
		typ = domain.MessageText
	}
	var err error
	switch {
	case !c.sock.Connected():
		err = domain.ErrNotConnected
	case recipientID == "":
		err = domain.MissingParticipant("send message requires a recipient")
	case roomID == "" || senderID == "" || !typ.Valid():
		err = domain.InvalidArguments("send message requires a room, a sender and a known type")
	case strings.TrimSpace(payload) == "":
		err = domain.ErrEmptyMessage
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send rejected")
		c.log.WarnContext(ctx, "conversation - send message - rejected", logging.Room(roomID), logging.Err(err))
		return domain.Message{}, err
	}

	msg := domain.Message{
		ClientMsgID: uuid.NewString(),
		RoomID:      roomID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Type:        typ,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	echoed := c.open != nil && c.open.id == roomID
	if echoed {
		c.open.messages = append(c.open.messages, msg)
	}
	c.mu.Unlock()

	err = c.sock.Emit(ctx, domain.EventMessage, domain.MessagePayload{
		ClientMsgID: msg.ClientMsgID,
		SenderID:    senderID,
		RecipientID: recipientID,
		RoomID:      roomID,
		Payload:     payload,
		Type:        typ,
	})
	if err != nil {
		if echoed {
			c.dropPending(roomID, msg.ClientMsgID)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit failed")
		c.log.ErrorContext(ctx, "conversation - send message - emit failed", logging.Room(roomID), logging.ClientMsg(msg.ClientMsgID), logging.Err(err))
		return domain.Message{}, err
	}

	c.sidebar.OutgoingMessage(recipientID, msg)
	c.metrics.MessageSent()
	c.log.DebugContext(ctx, "conversation - send message - sent", logging.Room(roomID), logging.ClientMsg(msg.ClientMsgID))
	return msg, nil
}

func (c *ConversationStore) dropPending(roomID, clientMsgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil || c.open.id != roomID {
		return
	}
	for i, m := range c.open.messages {
		if m.Pending() && m.ClientMsgID == clientMsgID {
			c.open.messages = append(c.open.messages[:i], c.open.messages[i+1:]...)
			return
		}
	}
}

// VisibilityChanged records whether the conversation is in front of the
// user. Becoming visible reads whatever arrived in the meantime.
func (c *ConversationStore) VisibilityChanged(ctx context.Context, visible bool) {
	c.mu.Lock()
	c.visible = visible
	if !visible || c.open == nil {
		c.mu.Unlock()
		return
	}
	unread := false
	for i := range c.open.messages {
		m := &c.open.messages[i]
		if m.SenderID == c.open.peer && !m.IsRead {
			m.IsRead = true
			unread = true
		}
	}
	roomID, peer, self := c.open.id, c.open.peer, c.self
	c.mu.Unlock()

	if !unread {
		return
	}
	if err := c.rooms.MarkRead(ctx, roomID, self, peer); err != nil {
		c.log.WarnContext(ctx, "conversation - visibility - mark read not sent", logging.Room(roomID), logging.Err(err))
	}
}

func (c *ConversationStore) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil
	}
	out := make([]domain.Message, len(c.open.messages))
	copy(out, c.open.messages)
	return out
}

// OpenRoom returns the open room and its peer.
func (c *ConversationStore) OpenRoom() (roomID, peerID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return "", "", false
	}
	return c.open.id, c.open.peer, true
}

// CloseRoom leaves the open conversation. A load still in flight is
// dropped when it completes.
func (c *ConversationStore) CloseRoom() {
	c.mu.Lock()
	c.selection++
	c.open = nil
	c.loading = false
	c.mu.Unlock()
}

func (c *ConversationStore) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *ConversationStore) Reset() {
	c.mu.Lock()
	c.selection++
	c.open = nil
	c.loading = false
	c.self = ""
	c.visible = true
	c.mu.Unlock()
}

// handleNewMessage routes one pushed message to exactly one view: the open
// conversation when it targets it, the sidebar counter otherwise.
func (c *ConversationStore) handleNewMessage(data json.RawMessage) {
	var ev domain.NewMessageEvent
	if err := domain.DecodeEvent(domain.EventNewMessage, data, &ev); err != nil {
		c.log.Warn("conversation - new message - dropped", logging.Err(err))
		return
	}
	msg := ev.Message()

	c.mu.Lock()
	self := c.self
	if c.open == nil || c.open.id != msg.RoomID {
		c.mu.Unlock()
		if msg.SenderID == self {
			// My own message from another device.
			c.sidebar.OutgoingMessage(msg.RecipientID, msg)
			return
		}
		c.sidebar.IncomingMessage(msg.SenderID, msg)
		c.log.Debug("conversation - new message - counted in sidebar", logging.Room(msg.RoomID), logging.Peer(msg.SenderID))
		return
	}

	open := c.open
	fromPeer := msg.SenderID == open.peer
	markNow := fromPeer && c.visible
	if markNow {
		msg.IsRead = true
	}
	if !c.reconcileLocked(msg) {
		open.messages = append(open.messages, msg)
	}
	roomID, peer := open.id, open.peer
	c.mu.Unlock()

	if !fromPeer {
		return
	}
	c.sidebar.SeenMessage(peer, msg)
	if markNow {
		ctx := context.Background()
		if err := c.sock.Emit(ctx, domain.EventMarkRoomRead, domain.MarkRoomReadPayload{RoomID: roomID, ActorID: self}); err != nil {
			c.log.Warn("conversation - new message - mark read not sent", logging.Room(roomID), logging.Err(err))
		}
	}
}

// reconcileLocked merges msg into an entry it duplicates: the pending
// echo with the same client id, or a stored copy with the same id.
func (c *ConversationStore) reconcileLocked(msg domain.Message) bool {
	for i := range c.open.messages {
		m := &c.open.messages[i]
		switch {
		case msg.ClientMsgID != "" && m.ClientMsgID == msg.ClientMsgID:
		case msg.ID != "" && m.ID == msg.ID:
		default:
			continue
		}
		if m.ID == "" {
			m.ID = msg.ID
		}
		if !msg.CreatedAt.IsZero() {
			m.CreatedAt = msg.CreatedAt
		}
		m.IsRead = m.IsRead || msg.IsRead
		return true
	}
	return false
}

// handleRoomRead applies a read receipt. When the peer read the room all my
// messages there are read; when I read it elsewhere my counter is cleared.
func (c *ConversationStore) handleRoomRead(data json.RawMessage) {
	var ev domain.RoomReadEvent
	if err := domain.DecodeEvent(domain.EventRoomRead, data, &ev); err != nil {
		c.log.Warn("conversation - room read - dropped", logging.Err(err))
		return
	}

	c.mu.Lock()
	self := c.self
	peer := ""
	if c.open != nil && c.open.id == ev.RoomID {
		peer = c.open.peer
		for i := range c.open.messages {
			m := &c.open.messages[i]
			if ev.ActorID == self && m.SenderID == peer {
				m.IsRead = true
			}
			if ev.ActorID != self && m.SenderID == self {
				m.IsRead = true
			}
		}
	}
	c.mu.Unlock()

	if peer == "" {
		var ok bool
		if peer, ok = c.sidebar.PeerForRoom(ev.RoomID); !ok {
			if ev.ActorID == self {
				return
			}
			peer = ev.ActorID
		}
	}
	if ev.ActorID == self {
		c.sidebar.ClearUnread(peer)
		return
	}
	c.sidebar.PeerRead(peer)
	c.log.Debug("conversation - room read - receipts applied", logging.Room(ev.RoomID), logging.Peer(ev.ActorID))
}

func (c *ConversationStore) handleMessageAck(data json.RawMessage) {
	var ev domain.MessageAckEvent
	if err := domain.DecodeEvent(domain.EventMessageAck, data, &ev); err != nil {
		c.log.Warn("conversation - message ack - dropped", logging.Err(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return
	}
	if !c.reconcileLocked(domain.Message{ID: ev.ID, ClientMsgID: ev.ClientMsgID, CreatedAt: ev.CreatedAt}) {
		c.log.Debug("conversation - message ack - no pending echo", logging.ClientMsg(ev.ClientMsgID))
	}
}

// handleConnect rejoins the open room after a reconnect.
func (c *ConversationStore) handleConnect(json.RawMessage) {
	roomID, _, ok := c.OpenRoom()
	if !ok {
		return
	}
	if err := c.sock.Emit(context.Background(), domain.EventJoinedRoom, domain.JoinedRoomPayload{RoomID: roomID}); err != nil {
		c.log.Warn("conversation - connect - rejoin not sent", logging.Room(roomID), logging.Err(err))
	}
}
