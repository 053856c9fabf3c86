// Package syncer orchestrates state synchronization: it loads local
// state, reconciles it against the remote snapshot through the merge
// engine, writes the result back, and owns the auto-sync scheduler
// that decides when attempts run.
package syncer

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/yeying-community/ucansync/cloud"
	"github.com/yeying-community/ucansync/ucan"
)

// Auth types for the remote store.
const (
	AuthBasic = "basic"
	AuthUCAN  = "ucan"
)

// Config is the sync deployment surface. Environment variables mirror
// the build-time configuration of the web deployment; the User* fields
// are runtime overrides set through the UI or an embedding program and
// take precedence over the environment.
type Config struct {
	// WebdavBackendBaseURL / WebdavBackendPrefix locate the snapshot
	// store.
	WebdavBackendBaseURL string `env:"WEBDAV_BACKEND_BASE_URL,default="`
	WebdavBackendPrefix  string `env:"WEBDAV_BACKEND_PREFIX,default="`

	// RouterBackendURL locates the request-routing backend whose
	// capability is part of the root set.
	RouterBackendURL string `env:"ROUTER_BACKEND_URL,default=https://llm.yeying.pub"`

	// UseProxy routes store calls through ProxyURL + /api/webdav.
	UseProxy bool   `env:"WEBDAV_USE_PROXY,default=false"`
	ProxyURL string `env:"WEBDAV_PROXY_URL,default="`

	// AuthType selects the store client: "basic" or "ucan".
	AuthType string `env:"WEBDAV_AUTH_TYPE,default=ucan"`
	Username string `env:"WEBDAV_USERNAME,default="`
	Password string `env:"WEBDAV_PASSWORD,default="`

	// AppID identifies this installation in ucan mode; it scopes the
	// storage capability and the remote app directory.
	AppID string `env:"UCAN_APP_ID,default="`

	// Auto-sync scheduling.
	AutoSyncEnabled bool          `env:"AUTO_SYNC_ENABLED,default=true"`
	SyncInterval    time.Duration `env:"AUTO_SYNC_INTERVAL,default=5m"`
	SyncDebounce    time.Duration `env:"AUTO_SYNC_DEBOUNCE,default=2s"`

	// Runtime overrides of the store location. UserEndpoint is the
	// legacy single-URL setting older configurations carry.
	UserBaseURL  string `env:"-"`
	UserPrefix   string `env:"-"`
	UserEndpoint string `env:"-"`
}

// FromEnv decodes the configuration from the environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode sync config: %w", err)
	}
	return cfg, nil
}

// Registry returns the capability registry for ucan mode. With no
// explicit AppID the resolved store host scopes the installation.
func (c Config) Registry() ucan.Registry {
	appID := c.AppID
	if appID == "" {
		if u, err := url.Parse(c.Endpoint().Resolved()); err == nil {
			appID = u.Host
		}
	}
	return ucan.Registry{
		AppID: appID,
	}
}

// Endpoint resolves the effective remote store target from overrides,
// environment and the legacy endpoint setting.
func (c Config) Endpoint() cloud.Endpoint {
	base := cloud.ResolveBaseURL(c.UserBaseURL, c.WebdavBackendBaseURL, c.UserEndpoint)
	prefix := cloud.ResolvePrefix(c.UserPrefix, c.UserBaseURL, c.WebdavBackendPrefix, c.WebdavBackendBaseURL, c.UserEndpoint)
	return cloud.Endpoint{
		BaseURL:  base,
		Prefix:   prefix,
		UseProxy: c.UseProxy,
		ProxyURL: c.ProxyURL,
	}
}
