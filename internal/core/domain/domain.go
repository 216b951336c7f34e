package domain

import (
	"strings"
	"time"
)

// Role is the tag of an Actor. Every role specific branch switches on it.
type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleTutor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the identity a connection session is bound to.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func NewActor(id string, role Role) (Actor, error) {
	if strings.TrimSpace(id) == "" {
		return Actor{}, InvalidArguments("actor id is required")
	}
	if !role.Valid() {
		return Actor{}, InvalidArguments("actor role must be user, tutor or admin")
	}
	return Actor{ID: id, Role: role}, nil
}

func (a Actor) IsZero() bool { return a.ID == "" && a.Role == "" }

func (a Actor) String() string { return string(a.Role) + ":" + a.ID }

// DefaultAvatar is shown for contacts without an avatar reference.
const DefaultAvatar = "/static/avatar-placeholder.png"

// Contact is the other party of a conversation, seen from the current actor.
// UnreadCount counts the peer's messages I have not read. LastMessageRead
// tells whether the peer has read my latest outgoing message. The two are
// independent read directions.
type Contact struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar,omitempty"`
	RoomID          string    `json:"roomId,omitempty"`
	UnreadCount     int       `json:"unreadCount"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	LastMessageRead bool      `json:"lastMessageRead"`
	LastMessageAt   time.Time `json:"lastMessageAt,omitempty"`
}

func (c Contact) AvatarOrDefault() string {
	if c.Avatar == "" {
		return DefaultAvatar
	}
	return c.Avatar
}

// ContactView is a Contact with presence resolved.
type ContactView struct {
	Contact
	IsOnline bool `json:"isOnline"`
}

// Room is a persistent conversation between exactly two participants.
type Room struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages,omitempty"`
}

// OtherParticipant returns the participant that is not selfID.
func (r Room) OtherParticipant(selfID string) (string, error) {
	if len(r.Participants) < 2 {
		return "", MalformedRoom("room " + r.ID + " has fewer than 2 participants")
	}
	for _, p := range r.Participants {
		if p != "" && p != selfID {
			return p, nil
		}
	}
	return "", MalformedRoom("room " + r.ID + " has no participant other than self")
}

type MessageType string

const (
	MessageText      MessageType = "text"
	MessageImage     MessageType = "image"
	MessageVideoCall MessageType = "video-call"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideoCall:
		return true
	}
	return false
}

// Message is one chat entry. ID is empty until the server has stored it;
// ClientMsgID correlates the optimistic copy with the stored one.
type Message struct {
	ID          string      `json:"id,omitempty"`
	ClientMsgID string      `json:"clientMsgId,omitempty"`
	RoomID      string      `json:"roomId"`
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId,omitempty"`
	Type        MessageType `json:"type"`
	Payload     string      `json:"message"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsRead      bool        `json:"isRead"`
}

func (m Message) Pending() bool { return m.ID == "" }

// Summary is the sidebar preview of the message.
func (m Message) Summary() string {
	switch m.Type {
	case MessageImage:
		return "[image]"
	case MessageVideoCall:
		return "[video call]"
	}
	return m.Payload
}

type CallPhase string

const (
	PhaseIdle     CallPhase = "idle"
	PhaseOutgoing CallPhase = "outgoing"
	PhaseIncoming CallPhase = "incoming"
	PhaseAccepted CallPhase = "accepted"
	PhaseInRoom   CallPhase = "in-room"
	PhaseEnded    CallPhase = "ended"
)

type CallType string

const (
	CallVideo CallType = "video"
	CallAudio CallType = "audio"
)

// CallMetadata lets the receiving side render the call without a lookup.
type CallMetadata struct {
	CallerName   string `json:"callerName,omitempty"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	CalleeName   string `json:"calleeName,omitempty"`
	CalleeAvatar string `json:"calleeAvatar,omitempty"`
}

// CallSession is the transient state of the single call an actor may have.
type CallSession struct {
	Phase     CallPhase    `json:"phase"`
	CallerID  string       `json:"callerId,omitempty"`
	CalleeID  string       `json:"calleeId,omitempty"`
	RoomID    string       `json:"roomId,omitempty"`
	CallType  CallType     `json:"callType,omitempty"`
	Metadata  CallMetadata `json:"metadata"`
	StartedAt time.Time    `json:"startedAt,omitempty"`
	Outcome   string       `json:"outcome,omitempty"`
}

func IdleCall() CallSession { return CallSession{Phase: PhaseIdle} }

func (s CallSession) Active() bool { return s.Phase != PhaseIdle && s.Phase != PhaseEnded && s.Phase != "" }

// Other returns the participant that is not selfID.
func (s CallSession) Other(selfID string) string {
	if s.CallerID == selfID {
		return s.CalleeID
	}
	return s.CallerID
}

type Notification struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId,omitempty"`
	Heading   string    `json:"heading"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type AlertLevel string

const (
	AlertInfo    AlertLevel = "info"
	AlertSuccess AlertLevel = "success"
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert is a user facing notice, the toast of a UI client.
type Alert struct {
	Level   AlertLevel
	Code    Code
	Message string
}
