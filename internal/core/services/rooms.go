package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

type IRoomDirectory interface {
	// Resolve returns the room between peerID and selfID, creating it server
	// side on first contact, then marks it read.
	Resolve(ctx context.Context, peerID, selfID string) (*domain.Room, error)
	// LastRoom returns the room the actor had open in its previous session.
	LastRoom(ctx context.Context, actorID string) (string, error)
	Reset()
}

// RoomDirectory maps peers to rooms and remembers the last opened room.
type RoomDirectory struct {
	log     *slog.Logger
	api     domain.RoomAPI
	store   domain.LastRoomStore
	sock    contracts.Socket
	sidebar *Sidebar

	group  singleflight.Group
	mu     sync.Mutex
	byPeer map[string]string
}

var _ IRoomDirectory = (*RoomDirectory)(nil)

func NewRoomDirectory(
	log *slog.Logger,
	api domain.RoomAPI,
	store domain.LastRoomStore,
	sock contracts.Socket,
	sidebar *Sidebar,
) *RoomDirectory {
	return &RoomDirectory{
		log:     log,
		api:     api,
		store:   store,
		sock:    sock,
		sidebar: sidebar,
		byPeer:  make(map[string]string),
	}
}

func (d *RoomDirectory) Resolve(ctx context.Context, peerID, selfID string) (*domain.Room, error) {
	ctx, span := tracer.Start(ctx, "RoomDirectory.Resolve", trace.WithAttributes(
		attribute.String("peer.id", peerID),
		attribute.String("actor.id", selfID),
	))
	defer span.End()

	peerID, selfID = strings.TrimSpace(peerID), strings.TrimSpace(selfID)
	if peerID == "" || selfID == "" {
		err := domain.InvalidArguments("resolve room requires a peer id and a self id")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid arguments")
		d.log.WarnContext(ctx, "rooms - resolve - missing identifiers", logging.Peer(peerID), logging.Actor(selfID))
		return nil, err
	}

	// Concurrent resolves of the same pair share one round trip.
	v, err, shared := d.group.Do(pairKey(peerID, selfID), func() (any, error) {
		return d.api.ResolveRoom(ctx, peerID, selfID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		d.log.ErrorContext(ctx, "rooms - resolve - api failed", logging.Peer(peerID), logging.Actor(selfID), logging.Err(err))
		return nil, err
	}
	room, _ := v.(*domain.Room)
	if room == nil || room.ID == "" {
		err := domain.MalformedRoom("resolve returned no room id")
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed room")
		return nil, err
	}

	d.remember(ctx, selfID, peerID, room.ID)
	if err := d.MarkRead(ctx, room.ID, selfID, peerID); err != nil {
		d.log.WarnContext(ctx, "rooms - resolve - mark read not sent", logging.Room(room.ID), logging.Err(err))
	}
	d.log.InfoContext(ctx, "rooms - resolve - success", logging.Room(room.ID), logging.Peer(peerID), slog.Bool("shared", shared))
	return room, nil
}

// MarkRead clears the sidebar counter of peerID and tells the server that
// selfID has read roomID. The local part happens even when the emit fails.
func (d *RoomDirectory) MarkRead(ctx context.Context, roomID, selfID, peerID string) error {
	d.sidebar.ClearUnread(peerID)
	return d.sock.Emit(ctx, domain.EventMarkRoomRead, domain.MarkRoomReadPayload{RoomID: roomID, ActorID: selfID})
}

// Cached returns the room already resolved for the pair, if any.
func (d *RoomDirectory) Cached(peerID, selfID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.byPeer[pairKey(peerID, selfID)]
	return id, ok
}

func (d *RoomDirectory) LastRoom(ctx context.Context, actorID string) (string, error) {
	if actorID == "" {
		return "", domain.InvalidArguments("last room requires an actor id")
	}
	roomID, err := d.store.LastRoom(ctx, actorID)
	if err != nil {
		d.log.ErrorContext(ctx, "rooms - last room - store read failed", logging.Actor(actorID), logging.Err(err))
		return "", err
	}
	return roomID, nil
}

// Forget drops the persisted last room, used when it no longer loads.
func (d *RoomDirectory) Forget(ctx context.Context, actorID string) {
	if err := d.store.ClearLastRoom(ctx, actorID); err != nil {
		d.log.WarnContext(ctx, "rooms - forget - store clear failed", logging.Actor(actorID), logging.Err(err))
	}
}

func (d *RoomDirectory) Reset() {
	d.mu.Lock()
	d.byPeer = make(map[string]string)
	d.mu.Unlock()
}

// remember caches the pair and persists roomID as the actor's last room.
func (d *RoomDirectory) remember(ctx context.Context, selfID, peerID, roomID string) {
	d.mu.Lock()
	d.byPeer[pairKey(peerID, selfID)] = roomID
	d.mu.Unlock()
	if err := d.store.SaveLastRoom(ctx, selfID, roomID); err != nil {
		d.log.WarnContext(ctx, "rooms - remember - store write failed", logging.Actor(selfID), logging.Room(roomID), logging.Err(err))
	}
}

func pairKey(peerID, selfID string) string { return selfID + "|" + peerID }
