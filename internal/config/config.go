package config

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
)

type Config interface {
	EnvConfig
	CorsConfig
	IdentityConfig
	APIConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetPublicBaseURL() string
	GetLogLevel() string
	GetMapAPIKey() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Identity
	API
	Store
}

func New() Config {
	return mainConfig{}
}

// Validate fails fast on configuration the process cannot run without.
func Validate(c Config) error {
	var missing []string
	if c.GetAPIBaseURL() == "" {
		missing = append(missing, apiBaseURLVar)
	}
	if c.GetIdentityBaseURL() == "" {
		missing = append(missing, identityURLVar)
	}
	if c.GetRealm() == "" {
		missing = append(missing, realmVar)
	}
	if c.GetClientID() == "" {
		missing = append(missing, clientIDVar)
	}
	if len(missing) > 0 {
		return fmt.Errorf("[config Validate] %w: %s", apperrors.ErrMissingConfig, strings.Join(missing, ", "))
	}
	return nil
}
