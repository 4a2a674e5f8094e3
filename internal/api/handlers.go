// Package api serves the note, tag and profile stores over HTTP JSON.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kuitang/thoughtflow/internal/auth"
	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/profile"
	"github.com/kuitang/thoughtflow/internal/s3client"
	"github.com/kuitang/thoughtflow/internal/store"
	"github.com/kuitang/thoughtflow/internal/thoughts"
)

// maxBodyBytes caps JSON request bodies. Escaping can grow note content
// well past its stored size.
const maxBodyBytes = 1 << 20

// Handler serves the API for the owner authenticated on each request.
type Handler struct {
	clock    clock.Clock
	objects  *s3client.Client
	validate *validator.Validate
}

// NewHandler creates a handler. A nil objects client disables avatar uploads.
func NewHandler(objects *s3client.Client, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Handler{clock: clk, objects: objects, validate: newValidator()}
}

// RegisterRoutes registers the API on mux. protect wraps every route that
// needs an authenticated owner.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	handle := func(pattern string, f http.HandlerFunc) {
		mux.Handle(pattern, protect(f))
	}

	mux.HandleFunc("GET /healthz", h.Health)
	handle("GET /api/session", h.Session)

	handle("POST /api/notes", h.CreateNote)
	handle("GET /api/notes", h.ListNotes)
	handle("GET /api/notes/draft", h.GetDraft)
	handle("GET /api/notes/{id}", h.GetNote)
	handle("PATCH /api/notes/{id}", h.UpdateNote)
	handle("DELETE /api/notes/{id}/tags", h.DeleteNoteTags)
	handle("POST /api/notes/{id}/tags", h.InsertNoteTags)

	handle("GET /api/tags", h.ListTags)
	handle("POST /api/tags", h.CreateTag)
	handle("POST /api/associations/query", h.QueryAssociations)

	handle("GET /api/profile", h.GetProfile)
	handle("PUT /api/profile", h.UpdateProfile)
	handle("GET /api/profile/avatar", h.GetAvatar)
	handle("POST /api/profile/avatar", h.UploadAvatar)

	handle("GET /api/export.html", h.Export)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Session handles GET /api/session, reporting whose token this is.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.GetOwnerID(r.Context())
	if ownerID == "" {
		writeError(w, r, errs.New(errs.Unauthenticated, "authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{OwnerID: ownerID})
}

// CreateNote handles POST /api/notes.
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateNoteRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID
	}
	if !req.IsDraft && strings.TrimSpace(req.Content) == "" {
		writeError(w, r, errs.New(errs.InvalidArgument, "Please enter some content for your thought"))
		return
	}

	note, err := st.CreateNote(r.Context(), req.OwnerID, req.Content, req.IsDraft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obs.From(r.Context()).Info("note_created", "note_id", note.ID, "is_draft", note.IsDraft, "bytes", len(note.Content))
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PATCH /api/notes/{id}.
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateNoteRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Content == nil && req.IsDraft == nil {
		writeError(w, r, errs.New(errs.InvalidArgument, "nothing to update"))
		return
	}

	id := r.PathValue("id")
	if err := st.UpdateNote(r.Context(), id, thoughts.NoteUpdate{Content: req.Content, IsDraft: req.IsDraft}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDraft handles GET /api/notes/draft. No draft is 204.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := st.GetDraftFor(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if draft == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// GetNote handles GET /api/notes/{id}.
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	note, err := st.GetNote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListNotes handles GET /api/notes?order=asc|desc. Only published notes
// are listed.
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order := thoughts.ParseSortOrder(r.URL.Query().Get("order"))
	notes, err := st.ListNotes(r.Context(), ownerID, order.Ascending())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NotesResponse{Notes: notes})
}

// DeleteNoteTags handles DELETE /api/notes/{id}/tags.
func (h *Handler) DeleteNoteTags(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := st.DeleteAssociations(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InsertNoteTags handles POST /api/notes/{id}/tags.
func (h *Handler) InsertNoteTags(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req SetTagsRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := st.InsertAssociations(r.Context(), r.PathValue("id"), req.TagIDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTags handles GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tags, err := st.ListTags(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TagsResponse{Tags: tags})
}

// CreateTag handles POST /api/tags.
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req CreateTagRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, errs.New(errs.InvalidArgument, "Tag name cannot be empty"))
		return
	}
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID
	}
	if req.Color == "" {
		req.Color = thoughts.RandomColor()
	}

	tag, err := st.CreateTag(r.Context(), req.OwnerID, req.Name, req.Color)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// QueryAssociations handles POST /api/associations/query.
func (h *Handler) QueryAssociations(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req AssociationQueryRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	assocs, err := st.ListAssociations(r.Context(), req.NoteIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AssociationsResponse{Associations: assocs})
}

// GetProfile handles GET /api/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	svc, err := h.profileFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := svc.Get(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProfile handles PUT /api/profile.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	svc, err := h.profileFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ProfileRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := svc.Update(r.Context(), profile.Update{
		DisplayName:        req.DisplayName,
		EmailNotifications: req.EmailNotifications,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UploadAvatar handles POST /api/profile/avatar. The body is the raw image.
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	svc, err := h.profileFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, profile.MaxAvatarBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, errs.New(errs.InvalidArgument, "Image size should be less than 2MB"))
			return
		}
		writeError(w, r, errs.Wrap(errs.InvalidArgument, "failed to read image", err))
		return
	}
	p, err := svc.UploadAvatar(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetAvatar handles GET /api/profile/avatar, streaming the stored image.
func (h *Handler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	svc, err := h.profileFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	obj, err := svc.Avatar(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// Export handles GET /api/export.html, rendering the owner's published
// notes that pass the filters in the query string.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, ownerID, err := h.storeFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	state, err := ParseFilterQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	notes, err := st.ListNotes(ctx, ownerID, state.Sort.Ascending())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids := make([]string, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	assocs, err := st.ListAssociations(ctx, ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tags, err := st.ListTags(ctx, ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}

	all := thoughts.AttachTags(notes, assocs)
	matched := thoughts.Filter(all, state)
	page, err := thoughts.RenderExport(matched, thoughts.ExportOptions{
		Description: thoughts.DescribeFilter(state, names),
		Empty:       thoughts.EmptyState(len(all), len(matched)),
		Location:    time.UTC,
	})
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to render export", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="thoughts.html"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (h *Handler) storeFor(r *http.Request) (*store.Store, string, error) {
	ownerDB := auth.GetOwnerDB(r.Context())
	ownerID := auth.GetOwnerID(r.Context())
	if ownerDB == nil || ownerID == "" {
		return nil, "", errs.New(errs.Unauthenticated, "authentication required")
	}
	return store.New(ownerDB, h.clock), ownerID, nil
}

func (h *Handler) profileFor(r *http.Request) (*profile.Service, error) {
	ownerDB := auth.GetOwnerDB(r.Context())
	if ownerDB == nil {
		return nil, errs.New(errs.Unauthenticated, "authentication required")
	}
	return profile.NewService(ownerDB, h.objects, h.clock), nil
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := h.decodeJSON(w, r, dst); err != nil {
		return err
	}
	return h.check(dst)
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return errs.New(errs.InvalidArgument, "request body too large")
		}
		return errs.Wrap(errs.InvalidArgument, "invalid JSON body", err)
	}
	return nil
}

func (h *Handler) check(dst any) error {
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the coded error body. Server-side failures are logged
// with their cause; the client only sees the message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("request_failed", "code", string(code), "error", err)
	} else {
		obs.From(r.Context()).Debug("request_rejected", "code", string(code), "error", err)
	}
	if code == errs.Unauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="thoughtflow"`)
	}
	writeJSON(w, status, ErrorResponse{Error: errs.MessageOf(err), Code: string(code)})
}
