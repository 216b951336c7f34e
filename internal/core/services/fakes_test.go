package services

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/logger"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type emitted struct {
	event   string
	payload any
}

type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	nextID    int
	handlers  map[string]map[int]contracts.Handler
	order     map[string][]int
	emits     []emitted
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		connected: true,
		handlers:  make(map[string]map[int]contracts.Handler),
		order:     make(map[string][]int),
	}
}

func (s *fakeSocket) Emit(_ context.Context, event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return domain.ErrNotConnected
	}
	s.emits = append(s.emits, emitted{event: event, payload: payload})
	return nil
}

func (s *fakeSocket) On(event string, h contracts.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]contracts.Handler)
	}
	s.handlers[event][id] = h
	s.order[event] = append(s.order[event], id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *fakeSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSocket) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// deliver runs the handlers of event with payload marshalled as JSON, or
// passed through when it already is raw JSON.
func (s *fakeSocket) deliver(event string, payload any) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case string:
		data = json.RawMessage(p)
	default:
		data, _ = json.Marshal(p)
	}
	s.mu.Lock()
	var list []contracts.Handler
	for _, id := range s.order[event] {
		if h, ok := s.handlers[event][id]; ok {
			list = append(list, h)
		}
	}
	s.mu.Unlock()
	for _, h := range list {
		h(data)
	}
}

func (s *fakeSocket) handlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

func (s *fakeSocket) emitted(event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, e := range s.emits {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (s *fakeSocket) clear() {
	s.mu.Lock()
	s.emits = nil
	s.mu.Unlock()
}

type fakeRoomAPI struct {
	mu           sync.Mutex
	rooms        map[string]*domain.Room
	byPair       map[string]string
	fetchErr     map[string]error
	gates        map[string]chan struct{}
	resolveCalls atomic.Int32
	block        chan struct{}
}

func newFakeRoomAPI() *fakeRoomAPI {
	return &fakeRoomAPI{
		rooms:    make(map[string]*domain.Room),
		byPair:   make(map[string]string),
		fetchErr: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

// gate makes the next fetches of roomID wait until the returned func runs.
func (a *fakeRoomAPI) gate(roomID string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.gates[roomID] = ch
	a.mu.Unlock()
	return func() { close(ch) }
}

func (a *fakeRoomAPI) addRoom(r domain.Room) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[r.ID] = &r
	if len(r.Participants) == 2 {
		a.byPair[r.Participants[0]+"|"+r.Participants[1]] = r.ID
		a.byPair[r.Participants[1]+"|"+r.Participants[0]] = r.ID
	}
}

func (a *fakeRoomAPI) ResolveRoom(_ context.Context, peerID, selfID string) (*domain.Room, error) {
	a.resolveCalls.Add(1)
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byPair[selfID+"|"+peerID]
	if !ok {
		id = "room-" + selfID + "-" + peerID
		a.rooms[id] = &domain.Room{ID: id, Participants: []string{selfID, peerID}}
		a.byPair[selfID+"|"+peerID] = id
		a.byPair[peerID+"|"+selfID] = id
	}
	r := *a.rooms[id]
	r.Messages = nil
	return &r, nil
}

func (a *fakeRoomAPI) FetchRoom(_ context.Context, roomID, _ string) (*domain.Room, error) {
	a.mu.Lock()
	gate := a.gates[roomID]
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.fetchErr[roomID]; err != nil {
		return nil, err
	}
	r, ok := a.rooms[roomID]
	if !ok {
		return nil, domain.NotFound("room " + roomID)
	}
	out := *r
	out.Messages = append([]domain.Message(nil), r.Messages...)
	return &out, nil
}

type fakeContactAPI struct {
	mu       sync.Mutex
	contacts []domain.Contact
	err      error
}

func (a *fakeContactAPI) FetchContacts(context.Context, string, string) ([]domain.Contact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Contact(nil), a.contacts...), a.err
}

type fakeNotificationAPI struct {
	mu     sync.Mutex
	items  []domain.Notification
	fetchs int
	// started and block, when set, hold a fetch until released.
	started chan struct{}
	block   chan struct{}
}

func (a *fakeNotificationAPI) FetchNotifications(context.Context, string) ([]domain.Notification, error) {
	a.mu.Lock()
	a.fetchs++
	started, block := a.started, a.block
	a.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Notification(nil), a.items...), nil
}

func (a *fakeNotificationAPI) MarkNotificationRead(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		if a.items[i].ID == id {
			a.items[i].IsRead = true
			return nil
		}
	}
	return domain.NotFound("notification " + id)
}

func (a *fakeNotificationAPI) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetchs
}

type mapStore struct {
	mu    sync.Mutex
	rooms map[string]string
}

func newMapStore() *mapStore { return &mapStore{rooms: make(map[string]string)} }

func (s *mapStore) LastRoom(_ context.Context, actorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[actorID], nil
}

func (s *mapStore) SaveLastRoom(_ context.Context, actorID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[actorID] = roomID
	return nil
}

func (s *mapStore) ClearLastRoom(_ context.Context, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, actorID)
	return nil
}

type fakeVideo struct {
	mu     sync.Mutex
	joined []string
	left   int
	room   string
	err    error

	// When gate is set Join signals started and waits for gate to close.
	started chan struct{}
	gate    chan struct{}
}

func (v *fakeVideo) Join(_ context.Context, roomID string, _ domain.Actor) error {
	if v.gate != nil {
		v.started <- struct{}{}
		<-v.gate
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.joined = append(v.joined, roomID)
	v.room = roomID
	return nil
}

func (v *fakeVideo) Leave(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.left++
	v.room = ""
	return nil
}

func (v *fakeVideo) state() (joined []string, left int, room string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.joined...), v.left, v.room
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a domain.Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// chat bundles the chat stores wired the way a session wires them.
type chat struct {
	sock     *fakeSocket
	api      *fakeRoomAPI
	contacts *fakeContactAPI
	store    *mapStore
	presence *PresenceTracker
	sidebar  *Sidebar
	rooms    *RoomDirectory
	convo    *ConversationStore
	subs     *contracts.Subscriptions
}

func newChat(self string) *chat {
	log := logger.Discard()
	c := &chat{
		sock:     newFakeSocket(),
		api:      newFakeRoomAPI(),
		contacts: &fakeContactAPI{},
		store:    newMapStore(),
	}
	c.presence = NewPresenceTracker(log)
	c.sidebar = NewSidebar(log, c.contacts, c.presence)
	c.rooms = NewRoomDirectory(log, c.api, c.store, c.sock, c.sidebar)
	c.convo = NewConversationStore(log, c.api, c.sock, c.rooms, c.sidebar, nil)
	c.convo.Bind(self)
	c.subs = contracts.NewSubscriptions(c.sock)
	c.presence.Attach(c.subs)
	c.convo.Attach(c.subs)
	return c
}
