package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"wbh-go/internal/wbh"
)

// RedisTransport keeps documents as plain string values. Blob ids are the
// keys, "blob:<destination>:<id>". Captions sit next to them under
// "<blob id>:caption" and messages are appended to "messages:<destination>".
// Suited to small deployments and integration rigs, since every chunk is
// held in server memory.
type RedisTransport struct {
	client *redis.Client
	limit  int
	ids    wbh.IDGenerator
}

// NewRedisTransport connects to addr and pings it.
func NewRedisTransport(ctx context.Context, addr, password string, db, limit int, ids wbh.IDGenerator) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	if ids == nil {
		ids = wbh.UUIDGenerator{}
	}
	return &RedisTransport{client: client, limit: limit, ids: ids}, nil
}

// Close closes the Redis connection.
func (r *RedisTransport) Close() error {
	return r.client.Close()
}

func (r *RedisTransport) Upload(ctx context.Context, destination string, doc wbh.Document) (wbh.RemoteHandle, error) {
	data, err := io.ReadAll(doc.Body)
	if err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: reading document: %w", wbh.ErrTransport, err)
	}
	if int64(len(data)) != doc.Size {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", wbh.ErrTransport, doc.Size, len(data))
	}

	id := r.ids.New()
	key := fmt.Sprintf("blob:%s:%s", destination, id)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	if doc.Caption != "" {
		pipe.Set(ctx, key+":caption", doc.Caption, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wbh.RemoteHandle{}, fmt.Errorf("%w: failed to store %s: %w", wbh.ErrTransport, key, err)
	}
	return wbh.RemoteHandle{MessageID: id, BlobID: key}, nil
}

func (r *RedisTransport) Fetch(ctx context.Context, blobID string, w io.Writer) error {
	data, err := r.client.Get(ctx, blobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: blob not found: %s", wbh.ErrTransport, blobID)
	} else if err != nil {
		return fmt.Errorf("%w: failed to get %s: %w", wbh.ErrTransport, blobID, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: writing blob: %w", wbh.ErrTransport, err)
	}
	return nil
}

func (r *RedisTransport) PostMessage(ctx context.Context, destination, text string) (string, error) {
	if err := checkMessage(text, r.limit); err != nil {
		return "", err
	}
	id := r.ids.New()
	if err := r.client.RPush(ctx, "messages:"+destination, id+"\n"+text).Err(); err != nil {
		return "", fmt.Errorf("%w: failed to post message: %w", wbh.ErrTransport, err)
	}
	return id, nil
}

func (r *RedisTransport) MessageLimit() int { return r.limit }

var _ wbh.Transport = (*RedisTransport)(nil)
