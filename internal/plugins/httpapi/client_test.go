package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tutorlink/internal/config"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/platform/logger"
)

func newTestClient(t *testing.T, h http.Handler, access, refresh string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(logger.Discard(), config.APIConfig{
		BaseURL:      srv.URL + "/",
		Timeout:      time.Second,
		AccessToken:  access,
		RefreshToken: refresh,
	})
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix(), "sub": "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestResolveRoomSendsPairAndBearer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/rooms/resolve", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body resolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, resolveRequest{PeerID: "t1", SelfID: "u1"}, body)
		_, _ = w.Write([]byte(`{"id":"r1","participants":["u1","t1"]}`))
	}), "tok", "")

	room, err := c.ResolveRoom(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "r1", room.ID)
	assert.Equal(t, []string{"u1", "t1"}, room.Participants)
}

func TestFetchContactsQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/contacts", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("actorId"))
		assert.Equal(t, "ann", r.URL.Query().Get("search"))
		_, _ = w.Write([]byte(`[{"id":"t1","name":"Ann","unreadCount":2}]`))
	}), "", "")

	contacts, err := c.FetchContacts(context.Background(), "u1", "ann")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, 2, contacts[0].UnreadCount)
}

func TestUnauthorizedRetriesOnceAfterRefresh(t *testing.T) {
	var refreshes, calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		var body refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r-old", body.RefreshToken)
		_, _ = w.Write([]byte(`{"accessToken":"new","refreshToken":"r-new"}`))
	})
	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"n1","heading":"Hi","message":"m"}]`))
	})
	c := newTestClient(t, mux, "old", "r-old")

	items, err := c.FetchNotifications(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), "old", "")

	_, err := c.FetchNotifications(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestErrorStatusMapping(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/rooms/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/notifications/n1/read":
			assert.Equal(t, http.MethodPatch, r.Method)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}), "", "")
	ctx := context.Background()

	_, err := c.FetchRoom(ctx, "missing", "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.FetchRoom(ctx, "r1", "u1")
	assert.ErrorIs(t, err, domain.ErrTransport)

	assert.NoError(t, c.MarkNotificationRead(ctx, "n1"))
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":`))
	}), "", "")

	_, err := c.FetchRoom(context.Background(), "r1", "u1")
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestExpiringTokenRefreshedAhead(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		_ = json.NewEncoder(w).Encode(refreshResponse{AccessToken: fresh})
	})
	c := newTestClient(t, mux, signedToken(t, time.Now().Add(10*time.Second)), "r1")

	tok, err := c.Tokens().AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, tok)

	tok, err = c.Tokens().AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, tok)
	assert.Equal(t, int32(1), refreshes.Load())
}

func TestTraceContextPropagated(t *testing.T) {
	prevProp := otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTextMapPropagator(prevProp)
	})

	var traceparent string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		_, _ = w.Write([]byte(`[]`))
	}), "", "")

	_, err := c.FetchNotifications(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, traceparent)
}
