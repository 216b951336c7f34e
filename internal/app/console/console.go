package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/services"
	"tutorlink/pkg/logging"
)

type SessionView interface {
	Actor() domain.Actor
}

type RoomResolver interface {
	Resolve(ctx context.Context, peerID, selfID string) (*domain.Room, error)
}

type Conversation interface {
	LoadRoom(ctx context.Context, roomID, selfID string, opts ...services.LoadOption) (*domain.Room, error)
	SendMessage(ctx context.Context, roomID, senderID, recipientID, payload string, typ domain.MessageType) (domain.Message, error)
	VisibilityChanged(ctx context.Context, visible bool)
	OpenRoom() (roomID, peerID string, ok bool)
	Messages() []domain.Message
}

type Contacts interface {
	Refresh(ctx context.Context, actorID, search string) ([]domain.ContactView, error)
}

type Calls interface {
	InitiateCall(ctx context.Context, req services.CallRequest) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context, reason string) error
	Hangup(ctx context.Context) error
	Session() domain.CallSession
}

type Notifications interface {
	Items() []domain.Notification
	MarkRead(ctx context.Context, id string) error
}

type Deps struct {
	Session       SessionView
	Rooms         RoomResolver
	Conversation  Conversation
	Contacts      Contacts
	Calls         Calls
	Notifications Notifications
}

// Console drives the client from line commands, one per line.
type Console struct {
	log *slog.Logger
	d   Deps
	out io.Writer
}

func New(log *slog.Logger, d Deps, out io.Writer) *Console {
	return &Console{log: log, d: d, out: out}
}

const help = `commands:
  contacts [search]        list contacts
  open <peerId>            open the conversation with a peer
  room <roomId>            open a room by id
  send <text>              send to the open conversation
  history                  print the open conversation
  hidden | visible         conversation view visibility
  call <peerId> [audio]    start a call
  accept | reject [reason] | hangup
  notifications            list notifications
  read <notificationId>    mark a notification read
  quit`

// Run reads commands until quit is typed or ctx ends. Once in is exhausted
// it waits for ctx, so the client keeps running without a terminal.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		case line := <-lines:
			if quit := c.Exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// Exec runs one command line and reports whether the console should stop.
func (c *Console) Exec(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	if cmd == "" {
		return false
	}
	var err error
	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return true
	case "help":
		c.println(help)
	case "contacts":
		err = c.contacts(ctx, rest)
	case "open":
		err = c.open(ctx, rest)
	case "room":
		err = c.room(ctx, rest)
	case "send":
		err = c.send(ctx, rest)
	case "history":
		c.history()
	case "hidden":
		c.d.Conversation.VisibilityChanged(ctx, false)
	case "visible":
		c.d.Conversation.VisibilityChanged(ctx, true)
	case "call":
		err = c.call(ctx, rest)
	case "accept":
		err = c.d.Calls.Accept(ctx)
	case "reject":
		err = c.d.Calls.Reject(ctx, rest)
	case "hangup":
		err = c.d.Calls.Hangup(ctx)
	case "notifications":
		c.notifications()
	case "read":
		err = c.d.Notifications.MarkRead(ctx, rest)
	default:
		err = domain.InvalidArguments("unknown command " + cmd)
	}
	if err != nil {
		c.log.DebugContext(ctx, "console - exec - command failed", slog.String("command", cmd), logging.Err(err))
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *Console) self() (domain.Actor, error) {
	actor := c.d.Session.Actor()
	if actor.IsZero() {
		return actor, domain.ErrNotConnected
	}
	return actor, nil
}

func (c *Console) contacts(ctx context.Context, search string) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	list, err := c.d.Contacts.Refresh(ctx, self.ID, search)
	if err != nil {
		return err
	}
	for _, ct := range list {
		status := "offline"
		if ct.IsOnline {
			status = "online"
		}
		c.printf("%-12s %-20s %-7s unread=%d %s\n", ct.ID, ct.Name, status, ct.UnreadCount, ct.LastMessage)
	}
	return nil
}

func (c *Console) open(ctx context.Context, peerID string) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	room, err := c.d.Rooms.Resolve(ctx, peerID, self.ID)
	if err != nil {
		return err
	}
	if _, err := c.d.Conversation.LoadRoom(ctx, room.ID, self.ID, services.WithPeerHint(peerID)); err != nil {
		return err
	}
	c.history()
	return nil
}

func (c *Console) room(ctx context.Context, roomID string) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	if _, err := c.d.Conversation.LoadRoom(ctx, roomID, self.ID); err != nil {
		return err
	}
	c.history()
	return nil
}

func (c *Console) send(ctx context.Context, text string) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	roomID, peerID, ok := c.d.Conversation.OpenRoom()
	if !ok {
		return domain.MissingParticipant("no open conversation")
	}
	_, err = c.d.Conversation.SendMessage(ctx, roomID, self.ID, peerID, text, domain.MessageText)
	return err
}

func (c *Console) history() {
	self := c.d.Session.Actor()
	for _, m := range c.d.Conversation.Messages() {
		from := m.SenderID
		if from == self.ID {
			from = "me"
		}
		mark := ""
		if m.Pending() {
			mark = " (sending)"
		} else if m.IsRead {
			mark = " (read)"
		}
		c.printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04"), from, m.Summary(), mark)
	}
}

func (c *Console) call(ctx context.Context, args string) error {
	self, err := c.self()
	if err != nil {
		return err
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return domain.MissingParticipant("call requires a peer id")
	}
	typ := domain.CallVideo
	if len(fields) > 1 && fields[1] == string(domain.CallAudio) {
		typ = domain.CallAudio
	}
	room, err := c.d.Rooms.Resolve(ctx, fields[0], self.ID)
	if err != nil {
		return err
	}
	return c.d.Calls.InitiateCall(ctx, services.CallRequest{CalleeID: fields[0], RoomID: room.ID, CallType: typ})
}

func (c *Console) notifications() {
	for _, n := range c.d.Notifications.Items() {
		mark := "*"
		if n.IsRead {
			mark = " "
		}
		c.printf("%s %-10s %s: %s\n", mark, n.ID, n.Heading, n.Message)
	}
}

// CallObserver prints call phase changes.
func (c *Console) CallObserver(s domain.CallSession) {
	switch s.Phase {
	case domain.PhaseIncoming:
		c.printf("incoming %s call from %s (accept / reject)\n", s.CallType, s.CallerID)
	case domain.PhaseEnded:
		c.printf("call ended: %s\n", s.Outcome)
	default:
		c.printf("call %s\n", s.Phase)
	}
}

func (c *Console) println(s string) { _, _ = fmt.Fprintln(c.out, s) }

func (c *Console) printf(format string, args ...any) { _, _ = fmt.Fprintf(c.out, format, args...) }
