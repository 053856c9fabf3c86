package cloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yeying-community/ucansync/ucan"
	"github.com/yeying-community/ucansync/wallet"
)

// DerivedClientSkew retires a derived client this far before its token
// expiry so a token is never presented right at the server's boundary.
const DerivedClientSkew = 30 * time.Second

// mkcolStatuses are the non-fatal answers to an app-directory creation:
// created, already exists (405/409 depending on server).
var mkcolStatuses = map[int]bool{
	http.StatusCreated:          true,
	http.StatusMethodNotAllowed: true,
	http.StatusConflict:         true,
}

// derivedClient is one minted invocation token bound to a resolved
// endpoint and root proof. It is cached until its descriptor changes or
// its token approaches expiry.
type derivedClient struct {
	key       string
	token     string
	appDir    string
	filePath  string
	expiresAt time.Time
}

// UCANConfig configures a UCANClient.
type UCANConfig struct {
	Endpoint Endpoint
	// Manager supplies the provider, session cache, sign lock, stored
	// proof and invalidation hook.
	Manager *wallet.SessionManager

	// InvocationTTL overrides ucan.DefaultInvocationTTL when positive.
	InvocationTTL time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
	Clock      func() time.Time
}

// UCANClient talks to the remote store with short-lived invocation
// tokens derived from the wallet's root proof. Token derivation may
// need a wallet signature, so it serializes through the shared sign
// lock; any failure that indicates the root proof itself is invalid
// invalidates the session manager's stored proof so the next attempt
// re-authorizes instead of looping.
type UCANClient struct {
	endpoint Endpoint
	manager  *wallet.SessionManager
	ttl      time.Duration
	http     *http.Client
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	derived     *derivedClient
	ensuredDirs map[string]bool
}

var _ Client = (*UCANClient)(nil)

// NewUCANClient builds a capability-token client over the session
// manager's wallet state.
func NewUCANClient(cfg UCANConfig) *UCANClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &UCANClient{
		endpoint:    cfg.Endpoint,
		manager:     cfg.Manager,
		ttl:         cfg.InvocationTTL,
		http:        httpClient,
		log:         log,
		now:         now,
		ensuredDirs: map[string]bool{},
	}
}

func (c *UCANClient) registry() ucan.Registry { return c.manager.Registry() }

// descriptorKey names every input that affects a derived token's
// validity: the resolved connection target plus the proof's identity
// and window.
func (c *UCANClient) descriptorKey(root *ucan.RootProof) string {
	reg := c.registry()
	return strings.Join([]string{
		c.endpoint.Resolved(),
		fmt.Sprint(c.endpoint.UseProxy),
		reg.AppID,
		reg.AppAction,
		reg.RootCapsKey(),
		root.Issuer,
		fmt.Sprint(root.ExpiresAt),
	}, "|")
}

// appDir is the app-scoped collection for this deployment, "" when the
// registry has no app id.
func (c *UCANClient) appDir() string {
	if id := ucan.SanitizeAppID(c.registry().AppID); id != "" {
		return "app/" + id
	}
	return ""
}

// derive returns a cached derived client or mints a fresh invocation
// token. Root-proof validation failures invalidate the stored proof
// before returning.
func (c *UCANClient) derive(ctx context.Context) (*derivedClient, error) {
	if !c.endpoint.Configured() {
		return nil, ErrNotConfigured
	}
	audience := ucan.AudienceDID(c.endpoint.BaseURL)
	if audience == "" {
		return nil, fmt.Errorf("%w: no ucan audience for %q", ErrNotConfigured, c.endpoint.BaseURL)
	}

	session := c.manager.Sessions().Get(ctx, c.manager.Provider(), wallet.GetOptions{})
	if session == nil {
		return nil, ErrNoSession
	}
	root := c.manager.StoredProof(ctx)
	now := c.now()
	if err := root.Validate("", c.registry().RootCapsKey(), now); err != nil {
		c.manager.InvalidateAuthorization(ctx, err.Error())
		return nil, err
	}
	if err := root.ValidateAudience(session.DID); err != nil {
		c.manager.InvalidateAuthorization(ctx, err.Error())
		return nil, err
	}

	key := c.descriptorKey(root)
	c.mu.Lock()
	if d := c.derived; d != nil && d.key == key && now.Before(d.expiresAt.Add(-DerivedClientSkew)) {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	// Minting may require a wallet signature on first session use;
	// serialize with every other signing flow.
	lock := c.manager.SignLock()
	if !lock.Acquire() {
		return nil, wallet.ErrSignPending
	}
	token, err := ucan.NewInvocationToken(session, root, ucan.InvocationParams{
		Audience:     audience,
		AppID:        c.registry().AppID,
		AppAction:    c.registry().AppAction,
		Capabilities: c.registry().StorageCapabilities(),
		TTL:          c.ttl,
	}, now)
	if err != nil {
		if wallet.IsSignPending(err) {
			lock.Refresh()
		} else {
			lock.Release()
		}
		return nil, fmt.Errorf("derive invocation token: %w", err)
	}
	lock.Release()

	ttl := c.ttl
	if ttl <= 0 {
		ttl = ucan.DefaultInvocationTTL
	}
	expiresAt := now.Add(ttl)
	if rootExp := time.UnixMilli(ucan.NormalizeExpiryMillis(root.ExpiresAt)); rootExp.Before(expiresAt) {
		expiresAt = rootExp
	}

	dir := c.appDir()
	filePath := DefaultFile
	if dir != "" {
		filePath = dir + "/" + BackupFilename
	}
	d := &derivedClient{
		key:       key,
		token:     token,
		appDir:    dir,
		filePath:  filePath,
		expiresAt: expiresAt,
	}
	c.mu.Lock()
	c.derived = d
	c.mu.Unlock()

	c.ensureAppDir(ctx, d)
	return d, nil
}

// ensureAppDir creates the app-scoped collection once per resolved
// target. Failure is logged, not fatal: the following PUT surfaces the
// real problem if the directory truly is missing.
func (c *UCANClient) ensureAppDir(ctx context.Context, d *derivedClient) {
	if d.appDir == "" {
		return
	}
	key := c.endpoint.Resolved() + "|" + d.appDir
	c.mu.Lock()
	done := c.ensuredDirs[key]
	c.mu.Unlock()
	if done {
		return
	}
	res, err := c.do(ctx, d, "MKCOL", d.appDir, "")
	if err != nil {
		c.log.Warn("ensure app dir failed", slog.String("dir", d.appDir), slog.String("err", err.Error()))
		return
	}
	defer res.Body.Close()
	if !mkcolStatuses[res.StatusCode] {
		c.log.Warn("ensure app dir failed",
			slog.String("dir", d.appDir),
			slog.Int("status", res.StatusCode))
		return
	}
	c.mu.Lock()
	c.ensuredDirs[key] = true
	c.mu.Unlock()
}

func (c *UCANClient) do(ctx context.Context, d *derivedClient, method, p, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	proxyMethod := ""
	httpMethod := method
	if c.endpoint.UseProxy && method == "MKCOL" {
		httpMethod = http.MethodGet
		proxyMethod = "MKCOL"
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.endpoint.URL(p, proxyMethod), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Check derives a client and probes the backup location.
func (c *UCANClient) Check(ctx context.Context) bool {
	d, err := c.derive(ctx)
	if err != nil {
		c.log.Warn("remote store check failed", slog.String("err", err.Error()))
		return false
	}
	probe := d.appDir
	if probe == "" {
		probe = DefaultFolder
	}
	res, err := c.do(ctx, d, "MKCOL", probe, "")
	if err != nil {
		c.log.Warn("remote store check failed", slog.String("err", err.Error()))
		return false
	}
	defer res.Body.Close()
	return checkStatuses[res.StatusCode] || mkcolStatuses[res.StatusCode]
}

// Get fetches the backup blob with a derived token. 404 maps to "".
func (c *UCANClient) Get(ctx context.Context, key string) (string, error) {
	d, err := c.derive(ctx)
	if err != nil {
		return "", err
	}
	res, err := c.do(ctx, d, http.MethodGet, d.filePath, "")
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer res.Body.Close()
	c.log.Debug("remote store get", slog.String("key", key), slog.Int("status", res.StatusCode))
	if res.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		// The backend rejected the proof chain; force re-authorization
		// rather than retrying with the same material.
		c.invalidate(ctx, fmt.Sprintf("remote store rejected token: %d", res.StatusCode))
		return "", fmt.Errorf("get %s: unauthorized (%d)", key, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("get %s: unexpected status %d", key, res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !snapshotMediaTypeOK(ct) {
		return "", fmt.Errorf("get %s: unexpected content type %q", key, ct)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("get %s: read body: %w", key, err)
	}
	return string(data), nil
}

// Set uploads the backup blob with a derived token.
func (c *UCANClient) Set(ctx context.Context, key, value string) error {
	d, err := c.derive(ctx)
	if err != nil {
		return err
	}
	res, err := c.do(ctx, d, http.MethodPut, d.filePath, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	defer res.Body.Close()
	c.log.Debug("remote store set", slog.String("key", key), slog.Int("status", res.StatusCode))
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		c.invalidate(ctx, fmt.Sprintf("remote store rejected token: %d", res.StatusCode))
		return fmt.Errorf("set %s: unauthorized (%d)", key, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("set %s: unexpected status %d", key, res.StatusCode)
	}
	return nil
}

// invalidate drops the derived client and the stored root proof.
func (c *UCANClient) invalidate(ctx context.Context, detail string) {
	c.mu.Lock()
	c.derived = nil
	c.mu.Unlock()
	c.manager.InvalidateAuthorization(ctx, detail)
	c.manager.Sessions().Invalidate()
}

// Reset drops cached derived state (token and ensured directories);
// used when the endpoint configuration changes at runtime.
func (c *UCANClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.derived = nil
	c.ensuredDirs = map[string]bool{}
}
