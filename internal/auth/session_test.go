package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/crypto"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/testdb"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestSessions(t testing.TB) (*SessionService, *db.AccountsDB, *clock.Fake) {
	t.Helper()
	accounts, err := testdb.NewAccountsDBInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })
	clk := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewSessionService(accounts, clk, time.Hour), accounts, clk
}

func TestToken_HighEntropy(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		a, err := generateToken()
		if err != nil {
			t.Fatalf("generateToken failed: %v", err)
		}
		b, err := generateToken()
		if err != nil {
			t.Fatalf("generateToken failed: %v", err)
		}
		if a == b {
			t.Fatalf("tokens collided: %s", a)
		}
		// 32 bytes, unpadded base64url
		if len(a) != 43 {
			t.Fatalf("token length %d, want 43", len(a))
		}
	})
}

func TestSessionService_IssueValidateExpire(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestSessions(t)

	token, err := svc.Issue(ctx, "alice")
	require.NoError(t, err)

	owner, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", owner)

	_, err = svc.Validate(ctx, token+"x")
	require.ErrorIs(t, err, ErrSessionNotFound)

	clk.Advance(time.Hour)
	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, ErrSessionNotFound)

	n, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSessionService_RejectsBadOwnerAndRevokes(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestSessions(t)

	_, err := svc.Issue(ctx, "../root")
	require.True(t, errors.Is(err, ErrInvalidOwnerID))

	token, err := svc.Issue(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, token))
	_, err = svc.Validate(ctx, token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	for header, want := range map[string]string{
		"Bearer abc":    "abc",
		"bearer   xyz ": "xyz",
		"Basic abc":     "",
		"Bearer":        "",
		"":              "",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		got, err := BearerToken(r)
		if want == "" {
			require.Error(t, err, header)
			continue
		}
		require.NoError(t, err, header)
		require.Equal(t, want, got)
	}
}

func TestMiddleware_RequireAuth(t *testing.T) {
	ctx := context.Background()
	svc, accounts, _ := newTestSessions(t)
	km := crypto.NewKeyManager(bytes.Repeat([]byte{3}, 32), accounts)
	m := NewMiddleware(svc, km)

	var opened []string
	m.open = func(ownerID string, dek []byte) (*db.OwnerDB, error) {
		opened = append(opened, ownerID)
		return testdb.NewOwnerDBInMemory("auth-" + ownerID)
	}

	var seenOwner string
	var seenDB *db.OwnerDB
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOwner = GetOwnerID(r.Context())
		seenDB = GetOwnerDB(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unauthenticated", body["code"])

	token, err := svc.Issue(ctx, "carol")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "carol", seenOwner)
	require.NotNil(t, seenDB)
	require.Equal(t, []string{"carol"}, opened)
	require.Equal(t, "carol", m.OwnerFromRequest(req))
	seenDB.Close()

	// Revoked tokens stop working once forgotten by the cache.
	require.NoError(t, svc.Revoke(ctx, token))
	m.Forget(token)
	require.Equal(t, "", m.OwnerFromRequest(req))
}
