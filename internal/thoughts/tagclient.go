package thoughts

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/kuitang/thoughtflow/internal/errs"
)

const msgTagsLoadFailed = "Failed to load tags. Please try again."

// TagClient loads and creates tags for the signed-in owner.
type TagClient struct {
	store    TagStore
	identity Identity
	sink     Sink
	color    func() string
}

// NewTagClient creates a TagClient. A nil sink discards status events.
func NewTagClient(store TagStore, identity Identity, sink Sink) *TagClient {
	return &TagClient{
		store:    store,
		identity: identity,
		sink:     sinkOrDiscard(sink),
		color:    RandomColor,
	}
}

// RandomColor returns a display color in [#000000, #fffffe].
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0xffffff))
}

// ListTags returns the owner's tags ordered by name.
func (c *TagClient) ListTags(ctx context.Context) ([]Tag, error) {
	owner, ok := c.identity.OwnerID(ctx)
	if !ok {
		c.sink.Emit(errorStatus(msgTagsLoadFailed, errNoOwner))
		return nil, errNoOwner
	}
	tags, err := c.store.ListTags(ctx, owner)
	if err != nil {
		err = asTransport("failed to load tags", err)
		c.sink.Emit(errorStatus(msgTagsLoadFailed, err))
		return nil, err
	}
	slices.SortStableFunc(tags, func(a, b Tag) int { return strings.Compare(a.Name, b.Name) })
	return tags, nil
}

// CreateTag creates a tag with a random color. An existing name fails
// with already_exists.
func (c *TagClient) CreateTag(ctx context.Context, name string) (*Tag, error) {
	tag, err := c.create(ctx, name)
	if err != nil {
		c.sink.Emit(errorStatus(errs.MessageOf(err), err))
		return nil, err
	}
	c.sink.Emit(infoStatus(fmt.Sprintf("Tag %q created successfully", tag.Name)))
	return tag, nil
}

// EnsureTag returns the tag named name, creating it if needed.
func (c *TagClient) EnsureTag(ctx context.Context, name string) (*Tag, error) {
	tag, err := c.create(ctx, name)
	if err == nil {
		c.sink.Emit(infoStatus(fmt.Sprintf("Tag %q created successfully", tag.Name)))
		return tag, nil
	}
	if !errs.Is(err, errs.AlreadyExists) {
		c.sink.Emit(errorStatus(errs.MessageOf(err), err))
		return nil, err
	}

	name = strings.TrimSpace(name)
	tags, err := c.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if t.Name == name {
			return &t, nil
		}
	}
	return nil, errs.New(errs.NotFound, fmt.Sprintf("tag %q not found", name))
}

func (c *TagClient) create(ctx context.Context, name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "Tag name cannot be empty")
	}
	owner, ok := c.identity.OwnerID(ctx)
	if !ok {
		return nil, errNoOwner
	}
	tag, err := c.store.CreateTag(ctx, owner, name, c.color())
	if err != nil {
		return nil, asTransport("Failed to create tag", err)
	}
	return tag, nil
}
