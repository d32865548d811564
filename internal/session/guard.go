// Package session implements the session guard: every outbound request
// passes through it to pick up a valid bearer credential, and a 401 answer
// triggers a single-flight refresh followed by exactly one retry.
//
// The guard is an explicitly constructed, shared instance handed to
// collaborators by the composition root. It owns no credential state of
// its own — the vault stays the single source of truth, so a concurrent
// logout or refresh is always observed on the next read.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chatterbox-im/chatterbox/internal/logging"
	"github.com/chatterbox-im/chatterbox/internal/vault"
)

const defaultRefreshTimeout = 10 * time.Second

// Guard authorizes outbound requests and recovers from credential expiry.
type Guard struct {
	vault    *vault.Vault
	exchange Exchange
	client   *http.Client
	log      logging.Logger
	timeout  time.Duration

	sf      singleflight.Group
	events  *eventRegistry
	expired atomic.Bool

	lifeMu     sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewGuard wires a guard over the vault and exchange. client is the HTTP
// client used for guarded requests (nil means http.DefaultClient); timeout
// bounds each refresh call so a hung exchange cannot wedge the
// single-flight lock.
func NewGuard(v *vault.Vault, ex Exchange, client *http.Client, timeout time.Duration, log logging.Logger) *Guard {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Guard{
		vault:      v,
		exchange:   ex,
		client:     client,
		log:        log,
		timeout:    timeout,
		events:     newEventRegistry(),
		lifeCtx:    ctx,
		lifeCancel: cancel,
	}
}

// Close cancels any in-flight background refresh. The guard is not usable
// afterwards.
func (g *Guard) Close() {
	g.lifeMu.Lock()
	g.lifeCancel()
	g.lifeMu.Unlock()
}

// Do sends an authorized request. On a 401 it refreshes the session
// (piggy-backing on any refresh already in flight) and retries the request
// exactly once; a second 401 is returned as-is. A failed refresh clears
// the session and returns ErrSessionExpired.
func (g *Guard) Do(req *http.Request) (*http.Response, error) {
	return g.do(req.Context(), req, false)
}

// do threads the retry state explicitly instead of marking the request, so
// the single-retry invariant holds no matter how the request is shared.
func (g *Guard) do(ctx context.Context, req *http.Request, retried bool) (*http.Response, error) {
	attempt, err := g.authorize(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(attempt)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || retried {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body was already consumed and cannot be replayed.
		return resp, nil
	}
	resp.Body.Close()

	if err := g.awaitRefresh(ctx); err != nil {
		return nil, err
	}
	return g.do(ctx, req, true)
}

// authorize clones the request reading the current access credential from
// the vault. When the credential is inside the proactive-refresh margin, a
// background refresh is kicked off while the still-valid credential serves
// this request.
func (g *Guard) authorize(ctx context.Context, req *http.Request) (*http.Request, error) {
	attempt := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
	}

	if cred := g.vault.Access(ctx); cred != nil {
		attempt.Header.Set("Authorization", "Bearer "+cred.Raw)
		if g.vault.ShouldProactivelyRefresh(ctx) {
			go g.backgroundRefresh()
		}
	}
	return attempt, nil
}

// Refresh exchanges the stored refresh credential for a fresh access
// credential. Fails fast with ErrNoRefreshCredential when none is usable;
// any response without a structurally valid access credential is a hard
// failure and nothing is stored.
func (g *Guard) Refresh(ctx context.Context) error {
	cred, err := g.vault.Refresh(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoRefreshCredential
	}

	res, err := g.exchange.Refresh(ctx, cred.Raw)
	if err != nil {
		return err
	}
	return g.vault.StoreRefreshed(ctx, res.Access, res.Refresh)
}

// awaitRefresh joins the process-wide refresh flight, starting one if none
// is running. All concurrent 401 victims share a single exchange call. On
// failure the session is expired exactly once.
func (g *Guard) awaitRefresh(ctx context.Context) error {
	ch := g.sf.DoChan("refresh", g.sharedRefresh)

	select {
	case res := <-ch:
		if res.Err != nil {
			g.expire(ctx, res.Err)
			return fmt.Errorf("%w: %w", ErrSessionExpired, res.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sharedRefresh runs detached from any single caller: the first 401 victim
// cancelling must not fail the refresh for everyone piggy-backing on it.
func (g *Guard) sharedRefresh() (any, error) {
	g.lifeMu.Lock()
	life := g.lifeCtx
	g.lifeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(life), g.timeout)
	defer cancel()

	select {
	case <-life.Done():
		return nil, life.Err()
	default:
	}
	return nil, g.Refresh(ctx)
}

// backgroundRefresh is the fire-and-forget proactive path. A transient
// failure here is only logged: the current access credential is still
// valid, so tearing the session down would be premature.
func (g *Guard) backgroundRefresh() {
	ch := g.sf.DoChan("refresh", g.sharedRefresh)
	res := <-ch
	if res.Err != nil {
		g.log.Warn(context.Background(), "proactive refresh failed", "error", res.Err)
	}
}

// expire clears the session once per failure episode and notifies
// collaborators. Raw refresh error detail stays at debug level; observers
// only learn "session invalid".
func (g *Guard) expire(ctx context.Context, cause error) {
	if !g.expired.CompareAndSwap(false, true) {
		return
	}
	g.log.Info(ctx, "session expired, clearing credentials", "cause", cause)
	if err := g.vault.Clear(context.WithoutCancel(ctx)); err != nil {
		g.log.Error(ctx, "clearing vault after failed refresh", "error", err)
	}
	g.events.notify(EventSessionExpired)
}

// AccessToken exposes the current raw access credential for collaborators
// that authenticate out-of-band (the websocket handshake). Returns false
// when no valid credential exists.
func (g *Guard) AccessToken(ctx context.Context) (string, bool) {
	cred := g.vault.Access(ctx)
	if cred == nil {
		return "", false
	}
	return cred.Raw, true
}

// OnEvent registers a session event handler and returns its subscription
// id for OffEvent.
func (g *Guard) OnEvent(h EventHandler) int {
	return g.events.subscribe(h)
}

// OffEvent removes a previously registered handler.
func (g *Guard) OffEvent(id int) {
	g.events.unsubscribe(id)
}
