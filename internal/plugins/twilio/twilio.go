package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"tutorlink/internal/config"
	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

// roomExists is the Twilio error code for a duplicate UniqueName.
const roomExists = 53113

// VideoRooms opens and completes Twilio group rooms named after the chat
// room of the call. It holds at most one joined room.
type VideoRooms struct {
	mu      sync.Mutex
	log     *slog.Logger
	http    *http.Client
	sid     string
	token   string
	baseURL string
	current string
}

var _ contracts.VideoRoom = (*VideoRooms)(nil)

// NewVideoRooms returns a Twilio backed provider, or a logging no-op when
// no account SID is configured.
func NewVideoRooms(log *slog.Logger, cfg config.VideoConfig) contracts.VideoRoom {
	if cfg.SID == "" {
		return nopRooms{log: log}
	}
	return &VideoRooms{
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		sid:     cfg.SID,
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (v *VideoRooms) Join(ctx context.Context, roomID string, actor domain.Actor) error {
	if roomID == "" {
		return domain.MissingParticipant("video room requires a room id")
	}
	data := url.Values{}
	data.Set("UniqueName", roomID)
	data.Set("Type", "group")

	status, body, err := v.post(ctx, v.baseURL+"/v1/Rooms", data)
	if err != nil {
		return err
	}
	if status >= 400 {
		var te twilioError
		if json.Unmarshal(body, &te) != nil || te.Code != roomExists {
			v.log.ErrorContext(ctx, "twilio - join - rejected", logging.Room(roomID), slog.Int("status", status), slog.String("body", string(body)))
			return domain.Transport("twilio join", fmt.Errorf("status %d: %s", status, te.Message))
		}
	}

	v.mu.Lock()
	v.current = roomID
	v.mu.Unlock()
	v.log.InfoContext(ctx, "twilio - join - room ready", logging.Room(roomID), logging.Actor(actor.ID))
	return nil
}

// Leave completes the joined room. Without a joined room it does nothing.
func (v *VideoRooms) Leave(ctx context.Context) error {
	v.mu.Lock()
	roomID := v.current
	v.current = ""
	v.mu.Unlock()
	if roomID == "" {
		return nil
	}

	data := url.Values{}
	data.Set("Status", "completed")
	status, body, err := v.post(ctx, v.baseURL+"/v1/Rooms/"+url.PathEscape(roomID), data)
	if err != nil {
		return err
	}
	// 404 means the room already ended on the other side.
	if status >= 400 && status != http.StatusNotFound {
		v.log.WarnContext(ctx, "twilio - leave - rejected", logging.Room(roomID), slog.Int("status", status), slog.String("body", string(body)))
		return domain.Transport("twilio leave", fmt.Errorf("status %d", status))
	}
	v.log.InfoContext(ctx, "twilio - leave - room completed", logging.Room(roomID))
	return nil
}

// Current returns the joined room id, "" when none.
func (v *VideoRooms) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *VideoRooms) post(ctx context.Context, apiURL string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(v.sid, v.token)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return 0, nil, domain.Transport("twilio request", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, body, nil
}

type nopRooms struct {
	log *slog.Logger
}

func (n nopRooms) Join(ctx context.Context, roomID string, actor domain.Actor) error {
	n.log.DebugContext(ctx, "twilio - join - video disabled", logging.Room(roomID), logging.Actor(actor.ID))
	return nil
}

func (nopRooms) Leave(context.Context) error { return nil }
