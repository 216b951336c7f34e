package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"tutorlink/internal/config"
	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
	"tutorlink/pkg/logging"
)

// TokenSource supplies the bearer token sent on the upgrade request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type Dialer struct {
	log          *slog.Logger
	url          string
	tokens       TokenSource
	writeTimeout time.Duration
	readLimit    int64
	dialer       *websocket.Dialer
}

var _ contracts.Dialer = (*Dialer)(nil)

func NewDialer(log *slog.Logger, cfg config.SocketConfig, tokens TokenSource) *Dialer {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = 512 * 1024 // 512KB max message size
	}
	return &Dialer{
		log:          log,
		url:          cfg.URL,
		tokens:       tokens,
		writeTimeout: writeTimeout,
		readLimit:    readLimit,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial opens a socket bound to the actor's id and role.
func (d *Dialer) Dial(ctx context.Context, actor domain.Actor) (contracts.Conn, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, domain.InvalidArguments("bad socket url: " + err.Error())
	}
	q := u.Query()
	q.Set("actorId", actor.ID)
	q.Set("role", string(actor.Role))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.tokens != nil {
		token, err := d.tokens.AccessToken(ctx)
		if err != nil {
			return nil, domain.Wrap(domain.CodeUnauthenticated, "socket token", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := d.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		d.log.DebugContext(ctx, "websocket - dial - failed", logging.Actor(actor.ID), slog.Int("status", status), logging.Err(err))
		return nil, domain.Transport(fmt.Sprintf("dial %s", u.Host), err)
	}
	return newConn(ws, d.writeTimeout, d.readLimit), nil
}
