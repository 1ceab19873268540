package config

import (
	"strings"
	"time"
)

const (
	apiBaseURLVar = "API_BASE_URL"
	apiTimeoutVar = "API_TIMEOUT"
)

type APIConfig interface {
	GetAPIBaseURL() string
	GetRequestTimeout() time.Duration
}

type API struct{}

var _ APIConfig = API{}

// GetAPIBaseURL has no default; the process refuses to start without it.
func (API) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, ""), "/")
}

func (API) GetRequestTimeout() time.Duration {
	return getDuration(apiTimeoutVar, 30*time.Second)
}
