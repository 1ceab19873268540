package config

const (
	storeBackendVar       = "STORE_BACKEND"
	storeDirVar           = "STORE_DIR"
	storeEncryptionKeyVar = "STORE_ENCRYPTION_KEY"
	redisAddrVar          = "REDIS_ADDR"
	redisPasswordVar      = "REDIS_PASSWORD"
	themeDefaultVar       = "THEME_DEFAULT"
)

// Store backends
const (
	StoreBackendFile   = "file"
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

type StoreConfig interface {
	GetStoreBackend() string
	GetStoreDir() string
	GetStoreEncryptionKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetDefaultTheme() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreBackend() string {
	return GetEnv(storeBackendVar, StoreBackendFile)
}

func (Store) GetStoreDir() string {
	return GetEnv(storeDirVar, "./data")
}

// GetStoreEncryptionKey returns a base64 encoded 32 byte key. Empty disables
// at-rest encryption of the file backend.
func (Store) GetStoreEncryptionKey() string {
	return GetEnv(storeEncryptionKeyVar, "")
}

func (Store) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv(redisPasswordVar, "")
}

func (Store) GetDefaultTheme() string {
	return GetEnv(themeDefaultVar, "light")
}
