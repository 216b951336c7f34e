package domain

import "context"

// RoomAPI is the REST side of the room directory and message history.
type RoomAPI interface {
	// ResolveRoom returns the room between peerID and selfID, creating it on
	// first contact. Repeated calls for the same pair return the same id.
	ResolveRoom(ctx context.Context, peerID, selfID string) (*Room, error)
	// FetchRoom returns the participants and message history of roomID.
	FetchRoom(ctx context.Context, roomID, actorID string) (*Room, error)
}

// ContactAPI lists the sidebar contacts with unread and last message summaries.
type ContactAPI interface {
	FetchContacts(ctx context.Context, actorID, search string) ([]Contact, error)
}

type NotificationAPI interface {
	FetchNotifications(ctx context.Context, actorID string) ([]Notification, error)
	// MarkNotificationRead returns ErrNotFound when id is unknown server side.
	MarkNotificationRead(ctx context.Context, id string) error
}

// LastRoomStore keeps the last opened room per actor across sessions.
type LastRoomStore interface {
	// LastRoom returns "" without error when nothing is stored.
	LastRoom(ctx context.Context, actorID string) (string, error)
	SaveLastRoom(ctx context.Context, actorID, roomID string) error
	ClearLastRoom(ctx context.Context, actorID string) error
}
