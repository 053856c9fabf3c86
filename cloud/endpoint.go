package cloud

import (
	"net/url"
	"strings"
)

// ProxyPrefix is the same-origin path a browser-hosted deployment
// routes WebDAV calls through to avoid cross-origin restrictions. The
// real endpoint rides along as a query parameter.
const ProxyPrefix = "/api/webdav"

// NormalizeBaseURL trims whitespace and trailing slashes.
func NormalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

// NormalizePrefix canonicalizes a path prefix: leading slash, no
// trailing slash, "" for empty or bare "/".
func NormalizePrefix(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "/" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if trimmed == "/" {
		return ""
	}
	return trimmed
}

// JoinBasePrefix concatenates a normalized base URL and prefix.
func JoinBasePrefix(baseURL, prefix string) string {
	base := NormalizeBaseURL(baseURL)
	p := NormalizePrefix(prefix)
	if p == "" {
		return base
	}
	return base + p
}

// ResolveBaseURL picks the effective base URL: explicit configuration,
// then the environment fallback, then the scheme://host of a legacy
// full-endpoint setting.
func ResolveBaseURL(configured, fallback, legacyEndpoint string) string {
	if s := strings.TrimSpace(configured); s != "" {
		return NormalizeBaseURL(s)
	}
	if s := strings.TrimSpace(fallback); s != "" {
		return NormalizeBaseURL(s)
	}
	endpoint := strings.TrimSpace(legacyEndpoint)
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Scheme + "://" + u.Host
}

// ResolvePrefix picks the effective path prefix. An explicitly
// configured base URL pins the prefix to the configured one alone; an
// environment base falls back to the environment prefix; otherwise the
// legacy endpoint's path is used.
func ResolvePrefix(configuredPrefix, configuredBase, fallbackPrefix, fallbackBase, legacyEndpoint string) string {
	prefix := strings.TrimSpace(configuredPrefix)
	if strings.TrimSpace(configuredBase) != "" {
		return NormalizePrefix(prefix)
	}
	if strings.TrimSpace(fallbackBase) != "" {
		if prefix != "" {
			return NormalizePrefix(prefix)
		}
		return NormalizePrefix(fallbackPrefix)
	}
	if prefix != "" {
		return NormalizePrefix(prefix)
	}
	endpoint := strings.TrimSpace(legacyEndpoint)
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return NormalizePrefix(u.Path)
}

// Endpoint is a resolved remote store target.
type Endpoint struct {
	// BaseURL is the store origin ("https://dav.example.com").
	BaseURL string
	// Prefix is the normalized path prefix under the origin.
	Prefix string
	// UseProxy routes calls through ProxyPrefix on ProxyURL instead of
	// hitting BaseURL directly.
	UseProxy bool
	// ProxyURL is the origin serving ProxyPrefix; may be empty for a
	// relative proxy path.
	ProxyURL string
}

// Configured reports whether the endpoint resolves to a usable target.
func (e Endpoint) Configured() bool {
	return e.BaseURL != ""
}

// Resolved returns the joined base+prefix target URL.
func (e Endpoint) Resolved() string {
	return JoinBasePrefix(e.BaseURL, e.Prefix)
}

// URL builds the request URL for a store path. proxyMethod, when set,
// tells the proxy which WebDAV verb to forward (used for probes whose
// verb the browser cannot issue directly).
func (e Endpoint) URL(p, proxyMethod string) string {
	p = strings.TrimPrefix(p, "/")
	if !e.UseProxy {
		return e.Resolved() + "/" + p
	}
	proxy := strings.TrimRight(e.ProxyURL, "/")
	u := url.URL{Path: ProxyPrefix + "/" + p}
	q := u.Query()
	q.Set("endpoint", e.Resolved())
	if proxyMethod != "" {
		q.Set("proxy_method", proxyMethod)
	}
	u.RawQuery = q.Encode()
	return proxy + u.String()
}
