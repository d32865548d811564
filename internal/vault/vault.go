// Package vault is the single source of truth for session credentials.
//
// The access credential lives in process memory only, so its compromise
// window ends with the process. The refresh credential and identity survive
// restarts in an encrypted sqlite store. Every read re-checks expiry, and
// any codec failure self-heals by purging just the affected slot: callers
// see "no credential" and re-authenticate, never a decode error.
package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chatterbox-im/chatterbox/internal/cryptox"
	"github.com/chatterbox-im/chatterbox/internal/dbx"
	"github.com/chatterbox-im/chatterbox/internal/logging"
	"github.com/chatterbox-im/chatterbox/internal/token"
)

// RefreshMargin is how close to expiry an access credential may get before
// the session guard starts refreshing it proactively.
const RefreshMargin = 300 * time.Second

const (
	slotSalt     = "storage_salt"
	slotRefresh  = "refresh_credential"
	slotIdentity = "identity"
)

// Vault holds one session: access credential (memory), refresh credential
// and identity (encrypted sqlite slots).
type Vault struct {
	db    *sql.DB
	codec *token.Codec
	key   []byte
	log   logging.Logger

	mu     sync.Mutex
	access *token.Record

	now func() time.Time
}

// New builds a Vault over an opened database. The storage key is derived
// from the device secret and a per-database random salt created on first
// use, so records re-open across restarts but are useless without the
// secret.
func New(ctx context.Context, db *sql.DB, secret []byte, log logging.Logger) (*Vault, error) {
	store := NewSQLiteStore(db)

	salt, err := store.Get(ctx, slotSalt)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = cryptox.RandBytes(32)
		if err := store.Set(ctx, slotSalt, salt); err != nil {
			return nil, err
		}
	}

	key := cryptox.DeriveStorageKey(secret, salt)
	return &Vault{
		db:    db,
		codec: token.NewCodec(key),
		key:   key,
		log:   log,
		now:   time.Now,
	}, nil
}

func (v *Vault) store() Store {
	return NewSQLiteStore(v.db)
}

// PutSession validates and writes all three slots, or none of them.
// Either credential failing codec validation aborts before any write.
func (v *Vault) PutSession(ctx context.Context, accessRaw, refreshRaw string, id token.Identity) error {
	accessRec, err := v.codec.Encode(accessRaw)
	if err != nil {
		return fmt.Errorf("access credential: %w", err)
	}
	refreshRec, err := v.codec.Encode(refreshRaw)
	if err != nil {
		return fmt.Errorf("refresh credential: %w", err)
	}

	refreshBytes, err := json.Marshal(refreshRec)
	if err != nil {
		return err
	}
	identityBytes, err := v.sealJSON(id)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		store := NewSQLiteStore(tx)
		if err := store.Set(ctx, slotRefresh, refreshBytes); err != nil {
			return err
		}
		return store.Set(ctx, slotIdentity, identityBytes)
	})
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.access = &accessRec
	v.mu.Unlock()
	return nil
}

// StoreRefreshed replaces the access credential after a successful refresh.
// When the server rotated the refresh credential, the non-empty refreshRaw
// replaces the stored one as well; rotation is optional.
func (v *Vault) StoreRefreshed(ctx context.Context, accessRaw, refreshRaw string) error {
	accessRec, err := v.codec.Encode(accessRaw)
	if err != nil {
		return fmt.Errorf("access credential: %w", err)
	}

	if refreshRaw != "" {
		refreshRec, err := v.codec.Encode(refreshRaw)
		if err != nil {
			return fmt.Errorf("refresh credential: %w", err)
		}
		refreshBytes, err := json.Marshal(refreshRec)
		if err != nil {
			return err
		}
		if err := v.store().Set(ctx, slotRefresh, refreshBytes); err != nil {
			return err
		}
	}

	v.mu.Lock()
	v.access = &accessRec
	v.mu.Unlock()
	return nil
}

// Access returns the current access credential, or nil when it is absent,
// expired, or corrupted. Corruption purges only the access slot.
func (v *Vault) Access(ctx context.Context) *token.Credential {
	v.mu.Lock()
	rec := v.access
	v.mu.Unlock()
	if rec == nil {
		return nil
	}

	cred, err := v.codec.Decode(*rec)
	if err != nil {
		v.log.Warn(ctx, "purging unreadable access credential", "error", err)
		v.dropAccess()
		return nil
	}
	if token.Expired(cred, v.now()) {
		v.dropAccess()
		return nil
	}
	return cred
}

func (v *Vault) dropAccess() {
	v.mu.Lock()
	v.access = nil
	v.mu.Unlock()
}

// Refresh returns the stored refresh credential, or nil when absent,
// expired, or corrupted. The error is non-nil only for storage failures.
func (v *Vault) Refresh(ctx context.Context) (*token.Credential, error) {
	raw, err := v.store().Get(ctx, slotRefresh)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var rec token.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		v.log.Warn(ctx, "purging unreadable refresh credential", "error", err)
		return nil, v.store().Delete(ctx, slotRefresh)
	}

	cred, err := v.codec.Decode(rec)
	if err != nil {
		v.log.Warn(ctx, "purging unreadable refresh credential", "error", err)
		return nil, v.store().Delete(ctx, slotRefresh)
	}
	if token.Expired(cred, v.now()) {
		return nil, v.store().Delete(ctx, slotRefresh)
	}
	return cred, nil
}

// IdentityData returns the stored identity, falling back to the access
// credential's claims when the slot is empty. Corrupted identity data is
// purged and treated as absent.
func (v *Vault) IdentityData(ctx context.Context) (*token.Identity, error) {
	raw, err := v.store().Get(ctx, slotIdentity)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		var id token.Identity
		if err := v.openJSON(raw, &id); err != nil {
			v.log.Warn(ctx, "purging unreadable identity data", "error", err)
			if err := v.store().Delete(ctx, slotIdentity); err != nil {
				return nil, err
			}
		} else {
			return &id, nil
		}
	}

	if cred := v.Access(ctx); cred != nil {
		if id, ok := token.ClaimsIdentity(cred); ok {
			return id, nil
		}
	}
	return nil, nil
}

// Clear purges all three slots. Safe to call at any time, any number of
// times.
func (v *Vault) Clear(ctx context.Context) error {
	err := dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		store := NewSQLiteStore(tx)
		if err := store.Delete(ctx, slotRefresh); err != nil {
			return err
		}
		return store.Delete(ctx, slotIdentity)
	})
	if err != nil {
		return err
	}
	v.dropAccess()
	return nil
}

// ShouldProactivelyRefresh reports whether the access credential exists, is
// still valid, but has less than RefreshMargin remaining — the window in
// which refreshing early avoids a user-visible 401 round trip later.
func (v *Vault) ShouldProactivelyRefresh(ctx context.Context) bool {
	cred := v.Access(ctx)
	if cred == nil {
		return false
	}
	return token.Remaining(cred, v.now()) < RefreshMargin
}

type sealedBlob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func (v *Vault) sealJSON(value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := cryptox.Seal(plaintext, v.key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedBlob{Nonce: nonce, Ciphertext: ciphertext})
}

func (v *Vault) openJSON(data []byte, out any) error {
	var blob sealedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return err
	}
	plaintext, err := cryptox.Open(blob.Ciphertext, blob.Nonce, v.key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, out)
}
