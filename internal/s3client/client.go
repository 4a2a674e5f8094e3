// Package s3client stores avatar images in an S3-compatible bucket. Objects
// are written public-read so profiles can link to them directly; Get serves
// them back through the API when the bucket URL is not reachable.
// NewInMemory serves a gofakes3 bucket for --no-s3 and tests.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrObjectNotFound is returned by Get for a key with no object.
var ErrObjectNotFound = errors.New("s3client: object not found")

// MaxObjectBytes bounds how much of an object Get reads.
const MaxObjectBytes = 8 << 20

// Object is a stored image.
type Object struct {
	Data        []byte
	ContentType string
}

// Client reads and writes avatar objects in one bucket.
type Client struct {
	api     *s3.Client
	bucket  string
	baseURL string // no trailing slash
}

// Config selects the bucket. An empty Endpoint means AWS itself; static
// credentials are used only when both halves are set, otherwise the SDK's
// default chain applies.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	// PublicURL is the base URL objects are served from. Defaults to the
	// path-style bucket URL on Endpoint.
	PublicURL    string
	UsePathStyle bool
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("s3client: bucket name is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(static))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3client: load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	base := cfg.PublicURL
	if base == "" && cfg.Endpoint != "" {
		base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.BucketName
	}
	return NewFromS3Client(api, cfg.BucketName, base), nil
}

// NewFromS3Client wraps an already configured SDK client.
func NewFromS3Client(api *s3.Client, bucket, publicURL string) *Client {
	return &Client{api: api, bucket: bucket, baseURL: strings.TrimSuffix(publicURL, "/")}
}

// AvatarKey names an owner's avatar uploaded at the given time, e.g.
// "avatars/alice/1718000000000.png".
func AvatarKey(ownerID string, at time.Time, ext string) string {
	return fmt.Sprintf("avatars/%s/%d.%s", ownerID, at.UnixMilli(), ext)
}

// Put stores data public-read under key.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPublicRead,
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3client: put %s: %w", key, err)
	}
	return nil
}

// Get reads the object under key, or returns ErrObjectNotFound.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3client: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("s3client: read %s: %w", key, err)
	}
	return &Object{Data: data, ContentType: aws.ToString(out.ContentType)}, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3client: delete %s: %w", key, err)
	}
	return nil
}

// URL is where key can be fetched without credentials.
func (c *Client) URL(key string) string {
	return c.baseURL + "/" + strings.TrimPrefix(key, "/")
}

// KeyForURL reverses URL. ok is false for URLs outside this bucket.
func (c *Client) KeyForURL(url string) (key string, ok bool) {
	key, ok = strings.CutPrefix(url, c.baseURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
