// Package apitest runs the full API stack over httptest for package tests.
package apitest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kuitang/thoughtflow/internal/api"
	"github.com/kuitang/thoughtflow/internal/auth"
	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/crypto"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/ratelimit"
	"github.com/kuitang/thoughtflow/internal/s3client"
	"github.com/kuitang/thoughtflow/internal/testdb"
)

// testMasterKey is 32 bytes.
var testMasterKey = []byte("thoughtflow-test-master-key-0001")

// Server is a running API backed by a temporary data directory and an
// in-memory bucket.
type Server struct {
	*httptest.Server
	Sessions *auth.SessionService
	Objects  *s3client.Client
	Clock    *clock.Fake
}

// Options tunes NewServer.
type Options struct {
	RateLimit ratelimit.Config
}

// NewServer starts the API. Owner databases are files under t.TempDir and
// the global database cache is reset on cleanup, so callers must not run
// in parallel with other users of package db.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()

	prevDir := db.DataDirectory
	db.DataDirectory = t.TempDir()

	accounts, err := testdb.NewAccountsDBInMemory()
	if err != nil {
		t.Fatalf("accounts db: %v", err)
	}
	clk := clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	sessions := auth.NewSessionService(accounts, clk, 24*time.Hour)
	authMW := auth.NewMiddleware(sessions, crypto.NewKeyManager(testMasterKey, accounts))

	if opts.RateLimit.RPS == 0 {
		opts.RateLimit = ratelimit.Config{RPS: 1000, Burst: 1000, CleanupInterval: time.Hour}
	}
	limiter := ratelimit.NewRateLimiter(opts.RateLimit)

	objects := s3client.TestClient(t, "thoughtflow-test")
	handler := api.NewHandler(objects, clk)
	srv := httptest.NewServer(api.NewRouter(handler, authMW, limiter))

	t.Cleanup(func() {
		srv.Close()
		limiter.Stop()
		db.ResetForTesting()
		accounts.Close()
		db.DataDirectory = prevDir
	})
	return &Server{Server: srv, Sessions: sessions, Objects: objects, Clock: clk}
}

// Token issues a bearer token for ownerID.
func (s *Server) Token(t testing.TB, ownerID string) string {
	t.Helper()
	token, err := s.Sessions.Issue(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
