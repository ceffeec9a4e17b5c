package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/marine-grid-etl/internal/config"
)

// Open returns the store selected by cfg.StoreBackend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.StoreBackend {
	case "file":
		s, err = NewFile(cfg.StoreDir)
	case "redis":
		s, err = OpenRedis(ctx, cfg.RedisURL)
	case "s3":
		s, err = OpenObject(ctx, ObjectConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return s, nil
}
