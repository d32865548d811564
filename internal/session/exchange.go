package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chatterbox-im/chatterbox/internal/token"
)

// Exchange is the credential exchange: login, refresh and logout endpoints
// owned by the auth backend. The core treats it as an opaque network call
// with a strict response-shape contract.
type Exchange interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Refresh(ctx context.Context, refreshRaw string) (*RefreshResult, error)
	Logout(ctx context.Context, refreshRaw string) error
}

// LoginResult is the successful login response: both credentials plus the
// server's user descriptor.
type LoginResult struct {
	Access   string
	Refresh  string
	Identity token.Identity
}

// RefreshResult carries the new access credential and, when the server
// rotates, a replacement refresh credential (otherwise empty).
type RefreshResult struct {
	Access  string
	Refresh string
}

// HTTPExchange talks JSON to the auth endpoints under a base URL.
type HTTPExchange struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExchange(baseURL string, client *http.Client) *HTTPExchange {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExchange{baseURL: baseURL, client: client}
}

type loginResponse struct {
	Access  string          `json:"access"`
	Refresh string          `json:"refresh"`
	User    *token.Identity `json:"user"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (e *HTTPExchange) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var out loginResponse
	err := e.post(ctx, "/auth/login/", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}

	// Absence of a structurally valid credential pair is a hard failure,
	// whatever the status code said.
	if _, err := token.Parse(out.Access); err != nil {
		return nil, fmt.Errorf("login response access credential: %w", err)
	}
	if _, err := token.Parse(out.Refresh); err != nil {
		return nil, fmt.Errorf("login response refresh credential: %w", err)
	}

	res := &LoginResult{Access: out.Access, Refresh: out.Refresh}
	if out.User != nil {
		res.Identity = *out.User
	} else if cred, err := token.Parse(out.Access); err == nil {
		if id, ok := token.ClaimsIdentity(cred); ok {
			res.Identity = *id
		}
	}
	return res, nil
}

func (e *HTTPExchange) Refresh(ctx context.Context, refreshRaw string) (*RefreshResult, error) {
	var out refreshResponse
	err := e.post(ctx, "/auth/refresh/", map[string]string{"refresh": refreshRaw}, &out)
	if err != nil {
		return nil, err
	}

	if _, err := token.Parse(out.Access); err != nil {
		return nil, fmt.Errorf("refresh response access credential: %w", err)
	}
	if out.Refresh != "" {
		if _, err := token.Parse(out.Refresh); err != nil {
			return nil, fmt.Errorf("refresh response rotated credential: %w", err)
		}
	}
	return &RefreshResult{Access: out.Access, Refresh: out.Refresh}, nil
}

// Logout asks the server to blacklist the refresh credential. Callers treat
// it as best-effort; local state is cleared regardless.
func (e *HTTPExchange) Logout(ctx context.Context, refreshRaw string) error {
	return e.post(ctx, "/auth/logout/", map[string]string{"refresh": refreshRaw}, nil)
}

func (e *HTTPExchange) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}
