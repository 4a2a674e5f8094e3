// Package apiclient talks to the thoughtflow server. Client implements the
// note and tag stores used by draft sessions and collections, so the same
// lifecycle code runs against a remote server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/thoughtflow/internal/api"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/logutil"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/profile"
	"github.com/kuitang/thoughtflow/internal/thoughts"
)

const (
	defaultTimeout = 30 * time.Second
	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20
	debugBodyBytes   = 2048
)

var (
	_ thoughts.NoteStore = (*Client)(nil)
	_ thoughts.TagStore  = (*Client)(nil)
)

// Client is an authenticated API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	debug   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDebug logs every request and response with secrets redacted and note
// content truncated.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// New creates a client for the server at baseURL using a bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  obs.Pkg("apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Whoami returns the owner the token belongs to.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var resp api.SessionResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/session", nil, &resp); err != nil {
		return "", err
	}
	return resp.OwnerID, nil
}

func (c *Client) CreateNote(ctx context.Context, ownerID, content string, isDraft bool) (*thoughts.Thought, error) {
	var note thoughts.Thought
	req := api.CreateNoteRequest{OwnerID: ownerID, Content: content, IsDraft: isDraft}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/notes", req, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) UpdateNote(ctx context.Context, id string, update thoughts.NoteUpdate) error {
	req := api.UpdateNoteRequest{Content: update.Content, IsDraft: update.IsDraft}
	_, err := c.doJSON(ctx, http.MethodPatch, "/api/notes/"+url.PathEscape(id), req, nil)
	return err
}

// GetDraftFor returns the token owner's current draft, or nil. The server
// resolves the owner from the token.
func (c *Client) GetDraftFor(ctx context.Context, ownerID string) (*thoughts.Thought, error) {
	var note thoughts.Thought
	status, err := c.doJSON(ctx, http.MethodGet, "/api/notes/draft", nil, &note)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &note, nil
}

// GetNote returns one note with its tags.
func (c *Client) GetNote(ctx context.Context, id string) (*thoughts.Thought, error) {
	var note thoughts.Thought
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/notes/"+url.PathEscape(id), nil, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (c *Client) ListNotes(ctx context.Context, ownerID string, ascending bool) ([]thoughts.Thought, error) {
	order := thoughts.NewestFirst
	if ascending {
		order = thoughts.OldestFirst
	}
	var resp api.NotesResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/notes?order="+order.String(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notes, nil
}

func (c *Client) ListTags(ctx context.Context, ownerID string) ([]thoughts.Tag, error) {
	var resp api.TagsResponse
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tags, nil
}

func (c *Client) CreateTag(ctx context.Context, ownerID, name, color string) (*thoughts.Tag, error) {
	var tag thoughts.Tag
	req := api.CreateTagRequest{OwnerID: ownerID, Name: name, Color: color}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/tags", req, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

func (c *Client) ListAssociations(ctx context.Context, noteIDs []string) ([]thoughts.Association, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	var resp api.AssociationsResponse
	req := api.AssociationQueryRequest{NoteIDs: noteIDs}
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/associations/query", req, &resp); err != nil {
		return nil, err
	}
	return resp.Associations, nil
}

func (c *Client) DeleteAssociations(ctx context.Context, noteID string) error {
	_, err := c.doJSON(ctx, http.MethodDelete, "/api/notes/"+url.PathEscape(noteID)+"/tags", nil, nil)
	return err
}

func (c *Client) InsertAssociations(ctx context.Context, noteID string, tagIDs []string) error {
	req := api.SetTagsRequest{TagIDs: tagIDs}
	_, err := c.doJSON(ctx, http.MethodPost, "/api/notes/"+url.PathEscape(noteID)+"/tags", req, nil)
	return err
}

func (c *Client) GetProfile(ctx context.Context) (*profile.Profile, error) {
	var p profile.Profile
	if _, err := c.doJSON(ctx, http.MethodGet, "/api/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdateProfile(ctx context.Context, u profile.Update) (*profile.Profile, error) {
	var p profile.Profile
	req := api.ProfileRequest{DisplayName: u.DisplayName, EmailNotifications: u.EmailNotifications}
	if _, err := c.doJSON(ctx, http.MethodPut, "/api/profile", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UploadAvatar sends raw image bytes. Oversized images are rejected locally
// with the same message the server uses.
func (c *Client) UploadAvatar(ctx context.Context, image []byte) (*profile.Profile, error) {
	if len(image) > profile.MaxAvatarBytes {
		return nil, errs.New(errs.InvalidArgument, "Image size should be less than 2MB")
	}
	raw, _, err := c.do(ctx, http.MethodPost, "/api/profile/avatar", http.DetectContentType(image), image)
	if err != nil {
		return nil, err
	}
	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.Internal, "unexpected response from server", err)
	}
	return &p, nil
}

// DownloadAvatar fetches the owner's avatar image.
func (c *Client) DownloadAvatar(ctx context.Context) ([]byte, error) {
	image, _, err := c.do(ctx, http.MethodGet, "/api/profile/avatar", "", nil)
	return image, err
}

// Export renders the server-side HTML export for the given filters.
func (c *Client) Export(ctx context.Context, state thoughts.FilterState) ([]byte, error) {
	page, _, err := c.do(ctx, http.MethodGet, "/api/export.html?"+api.FilterQuery(state).Encode(), "", nil)
	return page, err
}

// doJSON sends body as JSON and decodes a non-empty response into out. It
// returns the response status.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var payload []byte
	contentType := ""
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, errs.Wrap(errs.InvalidArgument, "failed to encode request", err)
		}
		contentType = "application/json"
	}
	raw, status, err := c.do(ctx, method, path, contentType, payload)
	if err != nil {
		return status, err
	}
	if out != nil && status != http.StatusNoContent && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return status, errs.Wrap(errs.Internal, "unexpected response from server", err)
		}
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InvalidArgument, "failed to build request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	if c.debug {
		c.logger.Debug("api_request",
			"method", method,
			"path", path,
			"headers", logutil.FormatHeadersForLog(req.Header),
			"body", logutil.FormatBodyForLog(contentType, payload, debugBodyBytes))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errs.Wrap(errs.Unavailable, "could not reach the server", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, errs.Wrap(errs.Unavailable, "connection lost while reading response", err)
	}
	if c.debug {
		c.logger.Debug("api_response",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"dur_ms", time.Since(start).Milliseconds(),
			"body", logutil.FormatBodyForLog(resp.Header.Get("Content-Type"), raw, debugBodyBytes))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.StatusCode, responseError(resp.StatusCode, raw)
	}
	return raw, resp.StatusCode, nil
}

// responseError rebuilds the coded error the server reported. Bodies that
// are not ours (proxies, load balancers) fall back to the status text.
func responseError(status int, raw []byte) error {
	var body api.ErrorResponse
	_ = json.Unmarshal(raw, &body)
	code := errs.FromHTTPStatus(status, body.Code)
	message := body.Error
	if message == "" {
		message = strings.ToLower(http.StatusText(status))
	}
	return errs.Wrap(code, message, &StatusError{Status: status})
}

// StatusError records the HTTP status behind a coded error.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d %s", e.Status, http.StatusText(e.Status))
}

// StatusOf returns the HTTP status behind err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
