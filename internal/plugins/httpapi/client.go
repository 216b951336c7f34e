package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"tutorlink/internal/config"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

var tracer = otel.Tracer("tutorlink-httpapi")

// Client is the REST collaborator: room resolution, history, contacts and
// notifications.
type Client struct {
	log     *slog.Logger
	http    *http.Client
	baseURL string
	tokens  *TokenSource
}

var (
	_ domain.RoomAPI         = (*Client)(nil)
	_ domain.ContactAPI      = (*Client)(nil)
	_ domain.NotificationAPI = (*Client)(nil)
)

func New(log *slog.Logger, cfg config.APIConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		log:     log,
		http:    httpClient,
		baseURL: base,
		tokens:  NewTokenSource(httpClient, base, cfg.AccessToken, cfg.RefreshToken),
	}
}

// Tokens is shared with the socket dialer so both present the same token.
func (c *Client) Tokens() *TokenSource { return c.tokens }

type resolveRequest struct {
	PeerID string `json:"peerId"`
	SelfID string `json:"selfId"`
}

func (c *Client) ResolveRoom(ctx context.Context, peerID, selfID string) (*domain.Room, error) {
	var room domain.Room
	if err := c.do(ctx, http.MethodPost, "/chat/rooms/resolve", resolveRequest{PeerID: peerID, SelfID: selfID}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) FetchRoom(ctx context.Context, roomID, actorID string) (*domain.Room, error) {
	var room domain.Room
	path := "/chat/rooms/" + url.PathEscape(roomID) + "?" + url.Values{"actorId": {actorID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &room); err != nil {
		return nil, err
	}
	if room.ID == "" {
		room.ID = roomID
	}
	return &room, nil
}

func (c *Client) FetchContacts(ctx context.Context, actorID, search string) ([]domain.Contact, error) {
	q := url.Values{"actorId": {actorID}}
	if search != "" {
		q.Set("search", search)
	}
	var contacts []domain.Contact
	if err := c.do(ctx, http.MethodGet, "/chat/contacts?"+q.Encode(), nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (c *Client) FetchNotifications(ctx context.Context, actorID string) ([]domain.Notification, error) {
	var items []domain.Notification
	path := "/notifications?" + url.Values{"actorId": {actorID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// do sends one request and decodes the JSON answer into out. A 401 is
// retried once after refreshing the token.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, method+" "+routeOf(path), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return domain.InvalidArguments("unencodable request body: " + err.Error())
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err == nil && resp.StatusCode == http.StatusUnauthorized && c.tokens.CanRefresh() {
		stale := resp.Request.Header.Get("Authorization")
		resp.Body.Close()
		c.log.InfoContext(ctx, "httpapi - request - unauthorized, refreshing token", slog.String("path", routeOf(path)))
		if err = c.tokens.Refresh(ctx, strings.TrimPrefix(stale, "Bearer ")); err == nil {
			resp, err = c.send(ctx, method, path, payload)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.log.ErrorContext(ctx, "httpapi - request - failed", slog.String("method", method), slog.String("path", routeOf(path)), logging.Err(err))
		if domain.CodeOf(err) != domain.CodeUnknown {
			return err
		}
		return domain.Transport(method+" "+routeOf(path), err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		span.SetStatus(codes.Error, "not found")
		return domain.NotFound(routeOf(path) + " not found")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		span.SetStatus(codes.Error, "unauthenticated")
		return domain.New(domain.CodeUnauthenticated, fmt.Sprintf("%s rejected with status %d", routeOf(path), resp.StatusCode))
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "server error")
		c.log.WarnContext(ctx, "httpapi - request - error status", slog.String("path", routeOf(path)), slog.Int("status", resp.StatusCode))
		return domain.Transport(method+" "+routeOf(path), err)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed body")
		return domain.MalformedPayload(routeOf(path), err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return c.http.Do(req)
}

// routeOf strips the query so spans and logs do not carry ids twice.
func routeOf(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
