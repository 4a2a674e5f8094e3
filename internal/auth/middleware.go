package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kuitang/thoughtflow/internal/crypto"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/patrickmn/go-cache"
)

type contextKey string

const (
	ownerIDKey contextKey = "ownerID"
	ownerDBKey contextKey = "ownerDB"
)

// validatedTokenTTL bounds how long a revoked token may keep working.
const validatedTokenTTL = time.Minute

// Middleware authenticates bearer tokens and opens the owner's database.
type Middleware struct {
	sessions   *SessionService
	keyManager *crypto.KeyManager
	open       func(ownerID string, dek []byte) (*db.OwnerDB, error)
	validated  *cache.Cache // token hash -> owner id
}

// NewMiddleware creates a new auth middleware.
func NewMiddleware(sessions *SessionService, keyManager *crypto.KeyManager) *Middleware {
	return &Middleware{
		sessions:   sessions,
		keyManager: keyManager,
		open:       db.OpenOwnerDBWithDEK,
		validated:  cache.New(validatedTokenTTL, 10*time.Minute),
	}
}

// Forget drops a token from the validation cache, e.g. after Revoke.
func (m *Middleware) Forget(token string) {
	m.validated.Delete(HashToken(token))
}

func (m *Middleware) ownerFor(ctx context.Context, token string) (string, error) {
	key := HashToken(token)
	if owner, found := m.validated.Get(key); found {
		return owner.(string), nil
	}
	ownerID, err := m.sessions.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	m.validated.Set(key, ownerID, cache.DefaultExpiration)
	return ownerID, nil
}

// RequireAuth rejects requests without a valid bearer token with 401.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token, err := BearerToken(r)
		if err != nil {
			writeAuthError(w, errs.New(errs.Unauthenticated, "missing bearer token"))
			return
		}

		ownerID, err := m.ownerFor(ctx, token)
		if err != nil {
			writeAuthError(w, errs.New(errs.Unauthenticated, "invalid or expired token"))
			return
		}

		dek, err := m.keyManager.GetOrCreateOwnerDEK(ctx, ownerID)
		if err != nil {
			obs.From(ctx).Error("owner_key_failed", "owner_id", ownerID, "error", err)
			writeAuthError(w, errs.Wrap(errs.Internal, "internal error", err))
			return
		}
		ownerDB, err := m.open(ownerID, dek)
		if err != nil {
			obs.From(ctx).Error("owner_db_open_failed", "owner_id", ownerID, "error", err)
			writeAuthError(w, errs.Wrap(errs.Unavailable, "storage unavailable", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(ctx, ownerID, ownerDB)))
	})
}

// OwnerFromRequest returns the owner id for rate limiting, validating the
// bearer token through the cache. Returns "" when unauthenticated.
func (m *Middleware) OwnerFromRequest(r *http.Request) string {
	token, err := BearerToken(r)
	if err != nil {
		return ""
	}
	ownerID, err := m.ownerFor(r.Context(), token)
	if err != nil {
		return ""
	}
	return ownerID
}

// WithOwner stores the authenticated owner and database in ctx.
func WithOwner(ctx context.Context, ownerID string, ownerDB *db.OwnerDB) context.Context {
	ctx = context.WithValue(ctx, ownerIDKey, ownerID)
	ctx = context.WithValue(ctx, ownerDBKey, ownerDB)
	return obs.WithOwnerID(ctx, ownerID)
}

// GetOwnerID returns the authenticated owner, or "".
func GetOwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(ownerIDKey).(string)
	return ownerID
}

// GetOwnerDB returns the owner's database, or nil.
func GetOwnerDB(ctx context.Context) *db.OwnerDB {
	ownerDB, _ := ctx.Value(ownerDBKey).(*db.OwnerDB)
	return ownerDB
}

func writeAuthError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	if code == errs.Unauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="thoughtflow"`)
	}
	w.WriteHeader(errs.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": errs.MessageOf(err),
		"code":  string(code),
	})
}
