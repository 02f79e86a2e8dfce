package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	realtimePath = "/realtime"

	// RedactedPlaceholder replaces credential values on retained URLs.
	RedactedPlaceholder = "<REDACTED>"

	paramAPIKey        = "api-key"
	paramAuthorization = "Authorization"
)

// versionedEndpoint is implemented by endpoints that carry an api-version.
type versionedEndpoint interface {
	APIVersion() string
}

// BuildURL returns the websocket URL for target on endpoint: the base URL
// plus /realtime on the wss scheme, addressed by model for the standard
// service and by api-version and deployment for Azure.
func BuildURL(endpoint Endpoint, target string) (*url.URL, error) {
	base := endpoint.BaseURL()
	path := realtimePath
	if strings.HasSuffix(base, "/") {
		path = path[1:]
	}

	u, err := url.Parse(base + path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse realtime url: %w", err)
	}
	u.Scheme = "wss"

	q := u.Query()
	switch endpoint.Kind() {
	case KindAzure:
		var version string
		if v, ok := endpoint.(versionedEndpoint); ok {
			version = v.APIVersion()
		}
		q.Set("api-version", version)
		q.Set("deployment", target)
	default:
		q.Set("model", target)
	}
	u.RawQuery = q.Encode()

	return u, nil
}

// redactURL returns a copy of u whose credential parameters hold the
// placeholder instead of the secret.
func redactURL(u *url.URL) *url.URL {
	out := cloneURL(u)
	q := out.Query()
	redacted := false
	for _, key := range []string{paramAPIKey, paramAuthorization} {
		if q.Has(key) {
			q.Set(key, RedactedPlaceholder)
			redacted = true
		}
	}
	if redacted {
		out.RawQuery = q.Encode()
	}
	return out
}

func cloneURL(u *url.URL) *url.URL {
	out := *u
	if u.User != nil {
		user := *u.User
		out.User = &user
	}
	return &out
}
