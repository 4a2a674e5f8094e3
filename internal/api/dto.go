package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/thoughts"
)

// CreateNoteRequest is the body of POST /api/notes.
type CreateNoteRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Content string `json:"content" validate:"max=65536"`
	IsDraft bool   `json:"is_draft"`
}

// UpdateNoteRequest is the body of PATCH /api/notes/{id}.
type UpdateNoteRequest struct {
	Content *string `json:"content,omitempty" validate:"omitempty,max=65536"`
	IsDraft *bool   `json:"is_draft,omitempty"`
}

// CreateTagRequest is the body of POST /api/tags. An empty color is
// chosen by the server.
type CreateTagRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name" validate:"required,max=64"`
	Color   string `json:"color,omitempty" validate:"omitempty,hexcolor,len=7"`
}

// AssociationQueryRequest is the body of POST /api/associations/query.
type AssociationQueryRequest struct {
	NoteIDs []string `json:"note_ids" validate:"max=5000,dive,required,max=64"`
}

// SetTagsRequest is the body of POST /api/notes/{id}/tags.
type SetTagsRequest struct {
	TagIDs []string `json:"tag_ids" validate:"required,min=1,max=200,dive,required,max=64"`
}

// ProfileRequest is the body of PUT /api/profile.
type ProfileRequest struct {
	DisplayName        *string `json:"display_name,omitempty" validate:"omitempty,max=100"`
	EmailNotifications *bool   `json:"email_notifications,omitempty"`
}

// NotesResponse wraps a note list.
type NotesResponse struct {
	Notes []thoughts.Thought `json:"notes"`
}

// TagsResponse wraps a tag list.
type TagsResponse struct {
	Tags []thoughts.Tag `json:"tags"`
}

// AssociationsResponse wraps an association list.
type AssociationsResponse struct {
	Associations []thoughts.Association `json:"associations"`
}

// SessionResponse identifies the token's owner.
type SessionResponse struct {
	OwnerID string `json:"owner_id"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns validator output into an invalid_argument error
// naming each failed field.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Wrap(errs.InvalidArgument, "invalid request", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "min":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max", "len":
			msgs = append(msgs, fmt.Sprintf("%s is too long", fe.Field()))
		case "hexcolor":
			msgs = append(msgs, fmt.Sprintf("%s must be a #rrggbb color", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return errs.Wrap(errs.InvalidArgument, strings.Join(msgs, "; "), err)
}
