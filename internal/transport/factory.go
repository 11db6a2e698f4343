package transport

import (
	"context"
	"fmt"

	"wbh-go/internal/config"
	"wbh-go/internal/wbh"
)

// NewTransportFromConfig builds the transport named by cfg.Type and wraps
// it for tracing.
func NewTransportFromConfig(ctx context.Context, cfg config.TransportConfig, ids wbh.IDGenerator) (wbh.Transport, error) {
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = config.DefaultMessageLimit
	}

	var (
		t   wbh.Transport
		err error
	)
	switch cfg.Type {
	case "memory":
		t = NewMemoryTransport(limit)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem transport requires fs_root to be set")
		}
		t, err = NewFileSystemTransport(cfg.FSRoot, limit, ids)
	case "telegram":
		t, err = NewTelegramTransport(cfg.TelegramToken, cfg.TelegramAPIURL)
	case "s3":
		t, err = NewS3Transport(ctx, S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Limit:     limit,
		}, ids)
	case "minio":
		t, err = NewMinioTransport(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Limit:     limit,
		}, ids)
	case "redis":
		t, err = NewRedisTransport(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, limit, ids)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return WithTracing(t, cfg.Type), nil
}
