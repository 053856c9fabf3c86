package cloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
)

// checkStatuses are the statuses a liveness probe accepts. A
// collection-creation probe against an already provisioned WebDAV path
// legitimately answers with several codes besides 200.
var checkStatuses = map[int]bool{
	http.StatusCreated:           true,
	http.StatusOK:                true,
	http.StatusNotFound:          true,
	http.StatusMethodNotAllowed:  true,
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// defaultHTTPClient bounds every remote store call.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// snapshotMediaTypeOK accepts the content types a store may label the
// snapshot blob with. Anything else means the URL answered with
// something that is not our data (a captive portal, an HTML error
// page).
func snapshotMediaTypeOK(header string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	mt := contenttype.NewMediaType(header)
	switch {
	case mt.Type == "application" && mt.Subtype == "json":
		return true
	case mt.Type == "application" && mt.Subtype == "octet-stream":
		return true
	case mt.Type == "text" && mt.Subtype != "html":
		return true
	default:
		return false
	}
}

// BasicConfig configures a BasicClient.
type BasicConfig struct {
	Endpoint Endpoint
	Username string
	Password string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// BasicClient talks to the remote store with static Basic credentials.
type BasicClient struct {
	endpoint Endpoint
	auth     string
	http     *http.Client
	log      *slog.Logger
}

var _ Client = (*BasicClient)(nil)

// NewBasicClient builds a client from static credentials.
func NewBasicClient(cfg BasicConfig) *BasicClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
	return &BasicClient{
		endpoint: cfg.Endpoint,
		auth:     "Basic " + creds,
		http:     httpClient,
		log:      log,
	}
}

func (c *BasicClient) do(ctx context.Context, method, target, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.auth)
	return c.http.Do(req)
}

// Check probes the backup collection. The probe is a GET routed as a
// collection-creation when proxied; any status in checkStatuses counts
// as alive.
func (c *BasicClient) Check(ctx context.Context) bool {
	if !c.endpoint.Configured() {
		return false
	}
	res, err := c.do(ctx, http.MethodGet, c.endpoint.URL(DefaultFolder, "MKCOL"), "")
	if err != nil {
		c.log.Warn("remote store check failed", slog.String("err", err.Error()))
		return false
	}
	defer res.Body.Close()
	ok := checkStatuses[res.StatusCode]
	c.log.Debug("remote store check",
		slog.Int("status", res.StatusCode),
		slog.Bool("ok", ok))
	return ok
}

// Get fetches the backup blob. 404 maps to "".
func (c *BasicClient) Get(ctx context.Context, key string) (string, error) {
	if !c.endpoint.Configured() {
		return "", ErrNotConfigured
	}
	res, err := c.do(ctx, http.MethodGet, c.endpoint.URL(DefaultFile, ""), "")
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	defer res.Body.Close()
	c.log.Debug("remote store get", slog.String("key", key), slog.Int("status", res.StatusCode))
	if res.StatusCode == http.StatusNotFound {
		return "", nil
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

// Set uploads the backup blob.
func (c *BasicClient) Set(ctx context.Context, key, value string) error {
	if !c.endpoint.Configured() {
		return ErrNotConfigured
	}
	res, err := c.do(ctx, http.MethodPut, c.endpoint.URL(DefaultFile, ""), value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	defer res.Body.Close()
	c.log.Debug("remote store set", slog.String("key", key), slog.Int("status", res.StatusCode))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("set %s: unexpected status %d", key, res.StatusCode)
	}
	return nil
}
