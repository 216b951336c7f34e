package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutorlink/internal/core/domain"
)

// refreshLeeway is how long before expiry an access token is replaced.
const refreshLeeway = 30 * time.Second

// TokenSource holds the access and refresh token pair. The access token is
// refreshed ahead of its exp claim and on demand after a 401.
type TokenSource struct {
	mu      sync.Mutex
	http    *http.Client
	baseURL string
	access  string
	refresh string
	now     func() time.Time
}

func NewTokenSource(httpClient *http.Client, baseURL, access, refresh string) *TokenSource {
	return &TokenSource{
		http:    httpClient,
		baseURL: baseURL,
		access:  access,
		refresh: refresh,
		now:     time.Now,
	}
}

// AccessToken returns a token that is not about to expire. An empty token
// means the API is used anonymously.
func (t *TokenSource) AccessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	access, refresh := t.access, t.refresh
	t.mu.Unlock()
	if access == "" {
		return "", nil
	}
	exp, ok := expiresAt(access)
	if !ok || refresh == "" || t.now().Add(refreshLeeway).Before(exp) {
		return access, nil
	}
	if err := t.Refresh(ctx, access); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access, nil
}

// CanRefresh reports whether a refresh token is held.
func (t *TokenSource) CanRefresh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refresh != ""
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Refresh trades the refresh token for a new pair. stale is the access
// token the caller saw; when another caller already replaced it the call
// returns without a round trip.
func (t *TokenSource) Refresh(ctx context.Context, stale string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.access != stale {
		return nil
	}
	if t.refresh == "" {
		return domain.New(domain.CodeUnauthenticated, "access token expired and no refresh token is held")
	}

	body, _ := json.Marshal(refreshRequest{RefreshToken: t.refresh})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return domain.Transport("refresh token", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.New(domain.CodeUnauthenticated, fmt.Sprintf("refresh rejected with status %d", resp.StatusCode))
	}
	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		return domain.MalformedPayload("refresh", err)
	}
	t.access = out.AccessToken
	if out.RefreshToken != "" {
		t.refresh = out.RefreshToken
	}
	return nil
}

// expiresAt reads the exp claim without verifying the signature.
func expiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
