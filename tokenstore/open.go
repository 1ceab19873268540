package tokenstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/jrsteele09/artvinci-web/internal/config"
	"github.com/redis/go-redis/v9"
)

// OpenBackend builds the backend selected by cfg. The returned close function
// releases any connection the backend holds.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.GetStoreBackend() {
	case config.StoreBackendMemory:
		return NewMemoryBackend(), noop, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       0,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("[tokenstore OpenBackend] redis ping: %w", err)
		}
		return NewRedisBackend(client, ""), client.Close, nil

	case config.StoreBackendFile:
		var key []byte
		if encoded := cfg.GetStoreEncryptionKey(); encoded != "" {
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, noop, fmt.Errorf("[tokenstore OpenBackend] decode encryption key: %w", err)
			}
			key = decoded
		}
		fb, err := NewFileBackend(cfg.GetStoreDir(), key)
		if err != nil {
			return nil, noop, err
		}
		return fb, noop, nil

	default:
		return nil, noop, fmt.Errorf("[tokenstore OpenBackend] unknown store backend %q", cfg.GetStoreBackend())
	}
}
