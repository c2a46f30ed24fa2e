package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ajitpratap0/starload/pkg/config"
)

// Opener resolves a source location to a readable stream
type Opener interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// URLOpener opens local paths, s3://bucket/key and gs://bucket/object
// locations. Locations ending in .gz or .zst are decompressed on the fly.
// Cloud clients are created on first use.
type URLOpener struct {
	s3cfg config.S3Config

	mu        sync.Mutex
	s3Client  *s3.Client
	gcsClient *storage.Client
	ownsGCS   bool
}

// OpenerOption configures a URLOpener
type OpenerOption func(*URLOpener)

// WithS3Client uses client for s3:// locations
func WithS3Client(client *s3.Client) OpenerOption {
	return func(o *URLOpener) { o.s3Client = client }
}

// WithGCSClient uses client for gs:// locations. The caller keeps ownership.
func WithGCSClient(client *storage.Client) OpenerOption {
	return func(o *URLOpener) { o.gcsClient = client }
}

// NewURLOpener creates an opener using cfg for lazily built S3 clients
func NewURLOpener(cfg config.S3Config, opts ...OpenerOption) *URLOpener {
	o := &URLOpener{s3cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open returns a reader over the decompressed contents of location
func (o *URLOpener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case strings.HasPrefix(location, "s3://"):
		rc, err = o.openS3(ctx, location)
	case strings.HasPrefix(location, "gs://"):
		rc, err = o.openGCS(ctx, location)
	case strings.Contains(location, "://"):
		return nil, fmt.Errorf("unsupported location scheme: %s", location)
	default:
		rc, err = os.Open(location)
	}
	if err != nil {
		return nil, err
	}
	return decompress(rc, location)
}

// Close releases clients the opener created itself
func (o *URLOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ownsGCS && o.gcsClient != nil {
		err := o.gcsClient.Close()
		o.gcsClient = nil
		return err
	}
	return nil
}

func (o *URLOpener) openS3(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := splitObjectURL(location, "s3://")
	if err != nil {
		return nil, err
	}
	client, err := o.s3Handle(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	return out.Body, nil
}

func (o *URLOpener) openGCS(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, object, err := splitObjectURL(location, "gs://")
	if err != nil {
		return nil, err
	}
	client, err := o.gcsHandle(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return r, nil
}

func (o *URLOpener) s3Handle(ctx context.Context) (*s3.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.s3Client != nil {
		return o.s3Client, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.s3cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.s3cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	o.s3Client = s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
		if o.s3cfg.PathStyle {
			opts.UsePathStyle = true
		}
		if o.s3cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.s3cfg.Endpoint)
		}
	})
	return o.s3Client, nil
}

func (o *URLOpener) gcsHandle(ctx context.Context) (*storage.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gcsClient != nil {
		return o.gcsClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	o.gcsClient = client
	o.ownsGCS = true
	return client, nil
}

func splitObjectURL(location, scheme string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(location, scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object location %q: want %sbucket/key", location, scheme)
	}
	return bucket, key, nil
}

// decompress wraps rc according to the location's extension
func decompress(rc io.ReadCloser, location string) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(location, ".gz"):
		zr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("open gzip stream %s: %w", location, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case strings.HasSuffix(location, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("open zstd stream %s: %w", location, err)
		}
		dec := zr.IOReadCloser()
		return &stackedReader{Reader: dec, closers: []io.Closer{dec, rc}}, nil
	default:
		return rc, nil
	}
}

// stackedReader closes a decoder and the stream beneath it
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
