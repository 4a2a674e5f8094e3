package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kuitang/thoughtflow/internal/clock"
	"github.com/kuitang/thoughtflow/internal/errs"
	"github.com/kuitang/thoughtflow/internal/s3client"
	"github.com/kuitang/thoughtflow/internal/testdb"
	"github.com/stretchr/testify/require"
)

var testCounter atomic.Int64

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newService(t *testing.T, withS3 bool) (*Service, *s3client.Client, *clock.Fake) {
	t.Helper()
	owner := fmt.Sprintf("profile-%d", testCounter.Add(1))
	odb, err := testdb.NewOwnerDBInMemory(owner)
	require.NoError(t, err)
	t.Cleanup(func() { odb.Close() })

	var objects *s3client.Client
	if withS3 {
		objects = s3client.TestClient(t, "avatars")
	}
	clk := clock.NewFake(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC))
	return NewService(odb, objects, clk), objects, clk
}

func TestProfile_DefaultsAndUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, false)

	p, err := svc.Get(ctx)
	require.NoError(t, err)
	require.True(t, p.EmailNotifications)
	require.Empty(t, p.DisplayName)

	name := "  Ada  "
	off := false
	p, err = svc.Update(ctx, Update{DisplayName: &name, EmailNotifications: &off})
	require.NoError(t, err)
	require.Equal(t, "Ada", p.DisplayName)
	require.False(t, p.EmailNotifications)

	// Omitted fields keep their values.
	p, err = svc.Update(ctx, Update{})
	require.NoError(t, err)
	require.Equal(t, "Ada", p.DisplayName)
	require.False(t, p.EmailNotifications)

	long := strings.Repeat("x", MaxDisplayNameChars+1)
	_, err = svc.Update(ctx, Update{DisplayName: &long})
	require.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestProfile_UploadAvatar(t *testing.T) {
	ctx := context.Background()
	svc, objects, clk := newService(t, true)

	p, err := svc.UploadAvatar(ctx, pngHeader)
	require.NoError(t, err)
	firstKey := s3client.AvatarKey(svc.db.OwnerID(), clk.Now(), "png")
	require.Equal(t, objects.URL(firstKey), p.AvatarURL)

	stored, err := objects.Get(ctx, firstKey)
	require.NoError(t, err)
	require.True(t, bytes.Equal(pngHeader, stored.Data))
	require.Equal(t, "image/png", stored.ContentType)

	clk.Advance(time.Second)
	p, err = svc.UploadAvatar(ctx, []byte("GIF89a......"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(p.AvatarURL, ".gif"))

	// The replaced avatar is removed.
	_, err = objects.Get(ctx, firstKey)
	require.True(t, errors.Is(err, s3client.ErrObjectNotFound))

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, p.AvatarURL, got.AvatarURL)
}

func TestProfile_UploadAvatarRejects(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t, true)

	big := append(bytes.Clone(pngHeader), make([]byte, MaxAvatarBytes)...)
	_, err := svc.UploadAvatar(ctx, big)
	require.True(t, errs.Is(err, errs.InvalidArgument))
	require.Equal(t, "Image size should be less than 2MB", errs.MessageOf(err))

	_, err = svc.UploadAvatar(ctx, []byte("plain text, not an image"))
	require.True(t, errs.Is(err, errs.InvalidArgument))

	_, err = svc.UploadAvatar(ctx, nil)
	require.True(t, errs.Is(err, errs.InvalidArgument))

	noS3, _, _ := newService(t, false)
	_, err = noS3.UploadAvatar(ctx, pngHeader)
	require.True(t, errs.Is(err, errs.Unavailable))
}

func TestProfile_Avatar(t *testing.T) {
	ctx := context.Background()
	svc, objects, _ := newService(t, true)

	_, err := svc.Avatar(ctx)
	require.True(t, errs.Is(err, errs.NotFound))

	_, err = svc.UploadAvatar(ctx, pngHeader)
	require.NoError(t, err)
	obj, err := svc.Avatar(ctx)
	require.NoError(t, err)
	require.Equal(t, pngHeader, obj.Data)
	require.Equal(t, "image/png", obj.ContentType)

	// The profile still points at an object someone removed from the bucket.
	p, err := svc.Get(ctx)
	require.NoError(t, err)
	key, ok := objects.KeyForURL(p.AvatarURL)
	require.True(t, ok)
	require.NoError(t, objects.Delete(ctx, key))
	_, err = svc.Avatar(ctx)
	require.True(t, errs.Is(err, errs.NotFound))

	noS3, _, _ := newService(t, false)
	_, err = noS3.Avatar(ctx)
	require.True(t, errs.Is(err, errs.Unavailable))
}
