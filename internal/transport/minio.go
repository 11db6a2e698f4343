package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wbh-go/internal/wbh"
)

// MinioOptions configures a MinioTransport.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Limit     int
}

// MinioTransport stores documents in a MinIO bucket using the same key
// layout as S3Transport.
type MinioTransport struct {
	client *minio.Client
	bucket string
	limit  int
	ids    wbh.IDGenerator
}

// NewMinioTransport connects to MinIO and creates the bucket if needed.
func NewMinioTransport(ctx context.Context, opts MinioOptions, ids wbh.IDGenerator) (*MinioTransport, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if ids == nil {
		ids = wbh.UUIDGenerator{}
	}
	return &MinioTransport{client: client, bucket: opts.Bucket, limit: opts.Limit, ids: ids}, nil
}

func (m *MinioTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	if destination == "" || strings.Contains(destination, "/") {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: invalid destination %q", wbh.ErrTransport, destination)
	}
	id := m.ids.New()
	key := path.Join(destination, "blobs", id+"-"+path.Base(doc.Name))

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if doc.Caption != "" {
		opts.UserMetadata = map[string]string{"caption": url.QueryEscape(doc.Caption)}
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, doc.Body, doc.Size, opts)
	if err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: failed to upload %s: %w", wbh.ErrTransport, key, err)
	}
	if info.Size != doc.Size {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: size mismatch for %s: expected %d bytes, stored %d", wbh.ErrTransport, key, doc.Size, info.Size)
	}
	return wbh.RemoteHandle{MessageID: id, BlobID: key}, nil
}

func (m *MinioTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	object, err := m.client.GetObject(ctx, m.bucket, blobID, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("%w: failed to get object %s: %w", wbh.ErrTransport, blobID, err)
	}
	defer object.Close()

	if _, err := io.Copy(w, object); err != nil {
		return fmt.Errorf("%w: failed to read object %s: %w", wbh.ErrTransport, blobID, err)
	}
	return nil
}

func (m *MinioTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	if err := checkMessage(text, m.limit); err != nil {
		return "", err
	}
	id := m.ids.New()
	key := path.Join(destination, "messages", id+".txt")
	_, err := m.client.PutObject(ctx, m.bucket, key, strings.NewReader(text), int64(len(text)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to post message: %w", wbh.ErrTransport, err)
	}
	return id, nil
}

func (m *MinioTransport) MessageLimit() int { return m.limit }

var _ wbh.Transport = (*MinioTransport)(nil)
