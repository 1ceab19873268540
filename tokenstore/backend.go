package tokenstore

import "context"

// Well-known keys of the durable client state.
const (
	KeySession = "artvinci_session"
	KeyTheme   = "artvinci_theme"
)

// Backend persists opaque values under well-known keys. Read returns
// errors.ErrNotFound for a key that was never written or has been deleted.
// A single Write must replace the whole value atomically.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
