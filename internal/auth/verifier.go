// Package auth resolves bearer tokens into user identities. Production
// deployments verify against the platform's auth service over HTTP; local
// development can validate JWTs in-process instead.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrMissingToken is returned for an absent or empty token, before any
	// network call is made.
	ErrMissingToken = errors.New("auth: missing token")

	// ErrUnauthorized covers every verification failure: bad token, auth
	// service unreachable, malformed response. Callers must not accept the
	// connection in any of those cases, so they get one category.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// maxErrorBodySize caps how much of an auth service error response we read
const maxErrorBodySize = 4096

// Identity is the authenticated user attached to a connection.
// Resolved once at connection establishment and immutable afterwards.
type Identity struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"` // "recruiter" or "candidate"
	DisplayName string `json:"display_name"`
}

// Verifier resolves a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier verifies tokens against the platform auth service.
type HTTPVerifier struct {
	verifyURL string
	client    *http.Client
}

// NewHTTPVerifier creates a verifier that calls GET verifyURL with the token
// as a bearer credential.
func NewHTTPVerifier(verifyURL string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Verify makes a single call to the auth service. Empty tokens are rejected
// without touching the network.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.verifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: auth service unreachable: %v", ErrUnauthorized, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%w: auth service returned %d: %s", ErrUnauthorized, resp.StatusCode, body)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("%w: decode identity: %v", ErrUnauthorized, err)
	}
	if identity.UserID == "" {
		return nil, fmt.Errorf("%w: identity response missing user_id", ErrUnauthorized)
	}

	return &identity, nil
}
