package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	publicBaseURLVar = "PUBLIC_BASE_URL"
	logLevelVar      = "LOG_LEVEL"
	mapAPIKeyVar     = "MAP_API_KEY"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "3000")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Artvinci")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetPublicBaseURL returns the URL the browser uses to reach this front-end
// (e.g., "http://localhost:3000"). Redirect URIs are built from it.
func (e EnvVars) GetPublicBaseURL() string {
	return strings.TrimRight(GetEnv(publicBaseURLVar, "http://localhost"+e.GetPort()), "/")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetMapAPIKey is only needed by the location features, which live outside
// this process.
func (EnvVars) GetMapAPIKey() string {
	return GetEnv(mapAPIKeyVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
