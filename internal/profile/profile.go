// Package profile manages the owner's settings and avatar image.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/db"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/s3client"
)

const (
	// MaxAvatarBytes is the largest accepted avatar upload.
	MaxAvatarBytes = 2 << 20
	// MaxDisplayNameChars bounds the display name.
	MaxDisplayNameChars = 100
)

// avatarExt lists the accepted sniffed content types.
var avatarExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Profile is the owner's settings.
type Profile struct {
	DisplayName        string    `json:"display_name"`
	AvatarURL          string    `json:"avatar_url"`
	EmailNotifications bool      `json:"email_notifications"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Update carries the fields to change; nil fields are kept.
type Update struct {
	DisplayName        *string `json:"display_name,omitempty"`
	EmailNotifications *bool   `json:"email_notifications,omitempty"`
}

// Service reads and writes one owner's profile. A nil object store disables
// avatar uploads.
type Service struct {
	db      *db.OwnerDB
	objects *s3client.Client
	clock   clock.Clock
}

func NewService(ownerDB *db.OwnerDB, objects *s3client.Client, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{db: ownerDB, objects: objects, clock: clk}
}

func (s *Service) Get(ctx context.Context) (Profile, error) {
	row, err := s.db.GetProfile(ctx)
	if err != nil {
		return Profile{}, errs.Wrap(errs.Unavailable, "Failed to load your profile. Please refresh the page.", err)
	}
	return fromRow(row), nil
}

// Update applies u and returns the stored profile.
func (s *Service) Update(ctx context.Context, u Update) (Profile, error) {
	row, err := s.db.GetProfile(ctx)
	if err != nil {
		return Profile{}, errs.Wrap(errs.Unavailable, "Failed to update your profile. Please try again.", err)
	}
	if u.DisplayName != nil {
		name := strings.TrimSpace(*u.DisplayName)
		if utf8.RuneCountInString(name) > MaxDisplayNameChars {
			return Profile{}, errs.New(errs.InvalidArgument, fmt.Sprintf("Display name must be at most %d characters", MaxDisplayNameChars))
		}
		row.DisplayName = name
	}
	if u.EmailNotifications != nil {
		row.EmailNotifications = *u.EmailNotifications
	}
	return s.save(ctx, row)
}

// UploadAvatar stores an image at avatars/{owner}/{unix-ms}.{ext} and
// points the profile at it. The previous avatar object is removed.
func (s *Service) UploadAvatar(ctx context.Context, data []byte) (Profile, error) {
	if s.objects == nil {
		return Profile{}, errs.New(errs.Unavailable, "avatar storage is not configured")
	}
	if len(data) == 0 {
		return Profile{}, errs.New(errs.InvalidArgument, "Please choose an image")
	}
	if len(data) > MaxAvatarBytes {
		return Profile{}, errs.New(errs.InvalidArgument, "Image size should be less than 2MB")
	}
	contentType := http.DetectContentType(data)
	ext, ok := avatarExt[contentType]
	if !ok {
		return Profile{}, errs.New(errs.InvalidArgument, "Avatar must be a PNG, JPEG, GIF or WebP image")
	}

	row, err := s.db.GetProfile(ctx)
	if err != nil {
		return Profile{}, errs.Wrap(errs.Unavailable, "Failed to update your profile. Please try again.", err)
	}
	previous := row.AvatarURL

	key := s3client.AvatarKey(s.db.OwnerID(), s.clock.Now(), ext)
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		return Profile{}, errs.Wrap(errs.Unavailable, "Failed to upload avatar", err)
	}
	row.AvatarURL = s.objects.URL(key)
	p, err := s.save(ctx, row)
	if err != nil {
		return Profile{}, err
	}

	if oldKey, ok := s.objects.KeyForURL(previous); ok && oldKey != key {
		if err := s.objects.Delete(ctx, oldKey); err != nil {
			obs.From(ctx).Warn("avatar_cleanup_failed", "key", oldKey, "error", err)
		}
	}
	obs.From(ctx).Info("avatar_uploaded", "key", key, "bytes", len(data), "content_type", contentType)
	return p, nil
}

// Avatar returns the stored avatar image. Owners without one, or whose
// avatar lives outside the configured bucket, get not_found.
func (s *Service) Avatar(ctx context.Context) (*s3client.Object, error) {
	if s.objects == nil {
		return nil, errs.New(errs.Unavailable, "avatar storage is not configured")
	}
	row, err := s.db.GetProfile(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "Failed to load your profile. Please refresh the page.", err)
	}
	key, ok := s.objects.KeyForURL(row.AvatarURL)
	if !ok {
		return nil, errs.New(errs.NotFound, "no avatar uploaded")
	}
	obj, err := s.objects.Get(ctx, key)
	if errors.Is(err, s3client.ErrObjectNotFound) {
		return nil, errs.New(errs.NotFound, "no avatar uploaded")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "Failed to load avatar", err)
	}
	if obj.ContentType == "" {
		obj.ContentType = http.DetectContentType(obj.Data)
	}
	return obj, nil
}

func (s *Service) save(ctx context.Context, row db.ProfileRow) (Profile, error) {
	row.UpdatedAt = s.clock.Now().UnixMilli()
	if err := s.db.UpsertProfile(ctx, row); err != nil {
		return Profile{}, errs.Wrap(errs.Unavailable, "Failed to update your profile. Please try again.", err)
	}
	return fromRow(row), nil
}

func fromRow(r db.ProfileRow) Profile {
	p := Profile{
		DisplayName:        r.DisplayName,
		AvatarURL:          r.AvatarURL,
		EmailNotifications: r.EmailNotifications,
	}
	if r.UpdatedAt != 0 {
		p.UpdatedAt = time.UnixMilli(r.UpdatedAt).UTC()
	}
	return p
}
