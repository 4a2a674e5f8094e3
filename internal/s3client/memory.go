package s3client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// InMemory is a Client backed by a gofakes3 server on a loopback port.
// Objects vanish when it is closed.
type InMemory struct {
	*Client
	URL string
	srv *http.Server
}

// NewInMemory starts a fake S3 server and creates bucketName in it.
func NewInMemory(ctx context.Context, bucketName string) (*InMemory, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("s3client: failed to listen: %w", err)
	}

	faker := gofakes3.New(s3mem.New())
	srv := &http.Server{
		Handler:           faker.Server(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	baseURL := "http://" + ln.Addr().String()

	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local-key", "local-secret", ""),
		),
	)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("s3client: failed to load AWS config: %w", err)
	}

	s3SDK := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(baseURL)
		o.UsePathStyle = true
	})
	if _, err := s3SDK.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("s3client: failed to create bucket %q: %w", bucketName, err)
	}

	return &InMemory{
		Client: NewFromS3Client(s3SDK, bucketName, baseURL+"/"+bucketName),
		URL:    baseURL,
		srv:    srv,
	}, nil
}

// Close stops the fake server.
func (m *InMemory) Close() error {
	return m.srv.Close()
}
