package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wbh-go/internal/wbh"
)

// S3Options configures an S3Transport.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Limit     int
}

// S3Transport stores documents as objects under
// <prefix>/<destination>/blobs/<id>-<name> and messages under
// <prefix>/<destination>/messages/<id>.txt. The object key is the blob id.
type S3Transport struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	limit    int
	ids      wbh.IDGenerator
}

// NewS3Transport loads AWS configuration the default way, overriding
// region, credentials and endpoint when they are set in opts.
func NewS3Transport(ctx context.Context, opts S3Options, ids wbh.IDGenerator) (*S3Transport, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 transport requires s3_bucket to be set")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	if ids == nil {
		ids = wbh.UUIDGenerator{}
	}
	return &S3Transport{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		limit:    opts.Limit,
		ids:      ids,
	}, nil
}

func (s *S3Transport) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Transport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	if destination == "" || strings.Contains(destination, "/") {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: invalid destination %q", wbh.ErrTransport, destination)
	}
	id := s.ids.New()
	key := s.key(destination, "blobs", id+"-"+path.Base(doc.Name))

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   doc.Body,
	}
	if doc.Caption != "" {
		// Object metadata must be ASCII.
		input.Metadata = map[string]string{"caption": url.QueryEscape(doc.Caption)}
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: uploading %s: %w", wbh.ErrTransport, key, err)
	}
	return wbh.RemoteHandle{MessageID: id, BlobID: key}, nil
}

func (s *S3Transport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(blobID),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("%w: blob %s not found", wbh.ErrTransport, blobID)
		}
		return fmt.Errorf("%w: fetching %s: %w", wbh.ErrTransport, blobID, err)
	}
	defer out.Body.Close()
	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("%w: reading %s: %w", wbh.ErrTransport, blobID, err)
	}
	return nil
}

func (s *S3Transport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	if err := checkMessage(text, s.limit); err != nil {
		return "", err
	}
	id := s.ids.New()
	key := s.key(destination, "messages", id+".txt")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: posting message: %w", wbh.ErrTransport, err)
	}
	return id, nil
}

func (s *S3Transport) MessageLimit() int { return s.limit }

var _ wbh.Transport = (*S3Transport)(nil)
