package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// Outbound events
const (
	EventRegisterActor = "register-actor"
	EventJoinedRoom    = "joined-room"
	EventMessage       = "message"
	EventMarkRoomRead  = "mark-room-read"
	EventInitiateCall  = "initiate-call"
	EventAcceptCall    = "accept-call"
	EventRejectCall    = "reject-or-cancel-call"
	EventLeaveRoom     = "leave-room"
)

// Inbound events
const (
	EventOnlinePeers     = "online-peer-set"
	EventNewMessage      = "new-message"
	EventMessageAck      = "message-ack"
	EventRoomRead        = "room-read"
	EventIncomingCall    = "incoming-call"
	EventCallAccepted    = "call-accepted"
	EventCallRejected    = "call-rejected"
	EventPeerLeft        = "peer-left"
	EventNewNotification = "new-notification"
)

// Connection lifecycle, dispatched locally by the connection manager.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Reasons carried by reject-or-cancel-call.
const (
	ReasonRejected  = "rejected"
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
	ReasonBusy      = "busy"
)

// Envelope is the frame written on the socket.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type RegisterActorPayload struct {
	ActorID string `json:"actorId"`
	Role    Role   `json:"role"`
}

type JoinedRoomPayload struct {
	RoomID string `json:"roomId"`
}

type MessagePayload struct {
	ClientMsgID string      `json:"clientMsgId"`
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId"`
	RoomID      string      `json:"roomId"`
	Payload     string      `json:"message"`
	Type        MessageType `json:"type"`
}

type MarkRoomReadPayload struct {
	RoomID  string `json:"roomId"`
	ActorID string `json:"actorId"`
}

type InitiateCallPayload struct {
	To       string       `json:"to"`
	From     string       `json:"from"`
	RoomID   string       `json:"roomId"`
	CallType CallType     `json:"callType"`
	Metadata CallMetadata `json:"metadata"`
}

type AcceptCallPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	RoomID string `json:"roomId"`
}

type RejectCallPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Sender string `json:"sender"`
	Reason string `json:"reason"`
}

type LeaveRoomPayload struct {
	To string `json:"to"`
}

// NewMessageEvent is a message pushed by the server, to the recipient and
// echoed to the sender's other listeners.
type NewMessageEvent struct {
	ID          string      `json:"id"`
	ClientMsgID string      `json:"clientMsgId"`
	RoomID      string      `json:"roomId" validate:"required"`
	SenderID    string      `json:"senderId" validate:"required"`
	RecipientID string      `json:"recipientId"`
	Payload     string      `json:"message"`
	Type        MessageType `json:"type"`
	CreatedAt   time.Time   `json:"createdAt"`
	IsRead      bool        `json:"isRead"`
	SenderName  string      `json:"senderName"`
}

func (e NewMessageEvent) Message() Message {
	typ := e.Type
	if !typ.Valid() {
		typ = MessageText
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return Message{
		ID:          e.ID,
		ClientMsgID: e.ClientMsgID,
		RoomID:      e.RoomID,
		SenderID:    e.SenderID,
		RecipientID: e.RecipientID,
		Type:        typ,
		Payload:     e.Payload,
		CreatedAt:   created,
		IsRead:      e.IsRead,
	}
}

type MessageAckEvent struct {
	ClientMsgID string    `json:"clientMsgId" validate:"required"`
	ID          string    `json:"id" validate:"required"`
	RoomID      string    `json:"roomId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type RoomReadEvent struct {
	RoomID  string `json:"roomId" validate:"required"`
	ActorID string `json:"actorId" validate:"required"`
}

type IncomingCallEvent struct {
	From       string       `json:"from" validate:"required"`
	To         string       `json:"to" validate:"required"`
	TargetRole Role         `json:"targetRole"`
	RoomID     string       `json:"roomId" validate:"required"`
	CallType   CallType     `json:"callType" validate:"required,oneof=video audio"`
	Metadata   CallMetadata `json:"metadata"`
}

type CallAcceptedEvent struct {
	RoomID string `json:"roomId" validate:"required"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type CallRejectedEvent struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type PeerLeftEvent struct {
	From string `json:"from"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeEvent unmarshals and shape checks an inbound payload. Anything that
// does not fit dst is reported as MalformedPayload and must be dropped.
func DecodeEvent(event string, raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return MalformedPayload(event, err)
	}
	if err := validate.Struct(dst); err != nil {
		return MalformedPayload(event, err)
	}
	return nil
}

// Encode builds a socket frame for event.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
