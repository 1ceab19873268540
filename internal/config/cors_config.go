package config

import "strings"

const allowedOriginsVar = "CORS_ALLOWED_ORIGINS"

type Cors struct{}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

// GetAllowedOrigins reads a comma separated origin list. The front-end's own
// origin is always allowed.
func (Cors) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{EnvVars{}.GetPublicBaseURL(): nullValue{}}
	for _, origin := range strings.Split(GetEnv(allowedOriginsVar, ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[origin] = nullValue{}
		}
	}
	return origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, PUT, PATCH, DELETE"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, Authorization, HX-Request"
}
