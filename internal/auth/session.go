package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/db"
)

// Session errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidOwnerID  = errors.New("invalid owner id")
)

const (
	// DefaultSessionDuration applies when the service is built with zero.
	DefaultSessionDuration = 30 * 24 * time.Hour
	TokenLength            = 32 // bytes, 256 bits
)

// SessionService issues and validates bearer tokens. Only token hashes
// are persisted.
type SessionService struct {
	db       *db.AccountsDB
	clock    clock.Clock
	duration time.Duration
}

// NewSessionService creates a new session service.
func NewSessionService(accounts *db.AccountsDB, clk clock.Clock, duration time.Duration) *SessionService {
	if clk == nil {
		clk = clock.Real{}
	}
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	return &SessionService{db: accounts, clock: clk, duration: duration}
}

// Issue creates a token for ownerID. The plaintext token is returned once.
func (s *SessionService) Issue(ctx context.Context, ownerID string) (string, error) {
	if !db.ValidOwnerID(ownerID) {
		return "", ErrInvalidOwnerID
	}
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	now := s.clock.Now()
	err = s.db.InsertSession(ctx, db.SessionRow{
		TokenHash: HashToken(token),
		OwnerID:   ownerID,
		ExpiresAt: now.Add(s.duration).Unix(),
		CreatedAt: now.Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate returns the owner for a live token.
func (s *SessionService) Validate(ctx context.Context, token string) (string, error) {
	session, err := s.db.GetValidSession(ctx, HashToken(token), s.clock.Now().Unix())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return session.OwnerID, nil
}

// Revoke deletes a token.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	if err := s.db.DeleteSession(ctx, HashToken(token)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions. Called periodically by cmd/server.
func (s *SessionService) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.db.DeleteExpiredSessions(ctx, s.clock.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

// HashToken returns the hex SHA-256 of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrSessionNotFound
	}
	return strings.TrimSpace(token), nil
}

func generateToken() (string, error) {
	b := make([]byte, TokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
