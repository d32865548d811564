package session

import (
	"context"

	"github.com/chatterbox-im/chatterbox/internal/token"
)

// This file is the Credential Store contract consumed by presentation
// collaborators: login, logout, and read-only projections of the session.

// Login populates the session after a successful authentication exchange:
// both credentials and the identity are written atomically. Calling it
// twice with the same values is harmless.
func (g *Guard) Login(ctx context.Context, id token.Identity, accessRaw, refreshRaw string) error {
	if err := g.vault.PutSession(ctx, accessRaw, refreshRaw, id); err != nil {
		return err
	}
	g.expired.Store(false)
	g.events.notify(EventLoggedIn)
	return nil
}

// LoginWithPassword performs the login exchange and populates the session
// from its result.
func (g *Guard) LoginWithPassword(ctx context.Context, email, password string) (*token.Identity, error) {
	res, err := g.exchange.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := g.Login(ctx, res.Identity, res.Access, res.Refresh); err != nil {
		return nil, err
	}
	return &res.Identity, nil
}

// Logout tears the session down. The server-side blacklist call is
// best-effort; local credentials are cleared regardless, pending background
// refreshes are cancelled, and it is safe to call with no session at all.
func (g *Guard) Logout(ctx context.Context) error {
	if cred, err := g.vault.Refresh(ctx); err == nil && cred != nil {
		if err := g.exchange.Logout(ctx, cred.Raw); err != nil {
			g.log.Warn(ctx, "logout exchange failed", "error", err)
		}
	}

	g.resetLifecycle()

	if err := g.vault.Clear(ctx); err != nil {
		return err
	}
	g.events.notify(EventLoggedOut)
	return nil
}

// resetLifecycle cancels outstanding background work and arms a fresh
// lifecycle context so a later login starts clean.
func (g *Guard) resetLifecycle() {
	g.lifeMu.Lock()
	g.lifeCancel()
	g.lifeCtx, g.lifeCancel = context.WithCancel(context.Background())
	g.lifeMu.Unlock()
}

// CurrentIdentity is a read-only projection for display purposes.
func (g *Guard) CurrentIdentity(ctx context.Context) (*token.Identity, error) {
	return g.vault.IdentityData(ctx)
}

// IsAuthenticated reports whether a non-expired access credential exists.
func (g *Guard) IsAuthenticated(ctx context.Context) bool {
	return g.vault.Access(ctx) != nil
}
