package netio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jamesprial/netio-mcp/internal/config"
)

const (
	defaultTimeout = 2 * time.Second
	defaultPath    = "/netio.json"
	maxBodyBytes   = 1 << 20
)

// Compile-time interface check.
var _ Device = (*HTTPClient)(nil)

// HTTPClient talks to one NETIO device over its JSON API. The endpoint and
// credentials are fixed at construction; connect to a different device or
// with different credentials by building a new client. HTTPClient is safe for
// concurrent use.
type HTTPClient struct {
	httpClient  *http.Client
	url         string
	username    string
	password    string
	outletCount int

	agent atomic.Pointer[AgentInfo]
}

// NewHTTPClient constructs an HTTPClient from the device configuration. It
// returns an error if cfg.Address is empty. A zero or negative timeout falls
// back to two seconds, an empty path to /netio.json.
func NewHTTPClient(cfg config.DeviceConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("netio: device address is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		url:         buildURL(cfg.Address, cfg.Path),
		username:    cfg.Username,
		password:    cfg.Password,
		outletCount: cfg.OutletCount,
	}, nil
}

// buildURL joins address and path into the endpoint URL. The address may be a
// bare host, host:port, or carry its own http:// or https:// scheme.
func buildURL(address, path string) string {
	base := strings.TrimRight(strings.TrimSpace(address), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if path == "" {
		path = defaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// URL returns the endpoint the client reads from and writes to.
func (c *HTTPClient) URL() string {
	return c.url
}

// OutletCount returns the number of outlets "all" expands to: the count the
// device reported on the last successful read, else the configured count,
// else DefaultOutletCount.
func (c *HTTPClient) OutletCount() int {
	if a := c.agent.Load(); a != nil && a.NumOutputs > 0 {
		return a.NumOutputs
	}
	if c.outletCount > 0 {
		return c.outletCount
	}
	return DefaultOutletCount
}

// Agent returns the identity cached from the last successful read, or nil.
func (c *HTTPClient) Agent() *AgentInfo {
	return c.agent.Load()
}

// FetchAgentInfo performs a full read and returns only the identity block.
// It is the connectivity probe.
func (c *HTTPClient) FetchAgentInfo(ctx context.Context) (*AgentInfo, error) {
	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Agent, nil
}

// FetchSnapshot reads and decodes the complete device document.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connectError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkAuth(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected HTTP status %d", ErrConnect, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, connectError(err)
	}

	snap, err := Decode(body)
	if err != nil {
		return nil, err
	}
	c.agent.Store(snap.Agent)
	return snap, nil
}

// FetchOutlet returns the state of one outlet from a fresh full read; the
// device has no single-outlet query.
func (c *HTTPClient) FetchOutlet(ctx context.Context, id OutletID) (OutletState, error) {
	if id < 1 {
		return OutletState{}, fmt.Errorf("%w: %s", ErrInvalidSelector, id)
	}

	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return OutletState{}, err
	}

	if _, err := SelectorToIdentifiers(id, c.OutletCount()); err != nil {
		return OutletState{}, err
	}
	out, ok := snap.Outlet(id)
	if !ok {
		return OutletState{}, fmt.Errorf("%w: %s not reported by device", ErrInvalidSelector, id)
	}
	return out, nil
}

// SetOutletAction sends action to one outlet, or to every outlet when id is
// AllOutlets, in a single write. A nil error means the device answered 200.
func (c *HTTPClient) SetOutletAction(ctx context.Context, id OutletID, action OutletAction) error {
	if !action.Settable() {
		return fmt.Errorf("%w: %s is read-only", ErrInvalidAction, action)
	}

	ids, err := SelectorToIdentifiers(id, c.OutletCount())
	if err != nil {
		return err
	}
	cmd, err := BuildCommand(ids, action)
	if err != nil {
		return err
	}
	body, err := cmd.Marshal()
	if err != nil {
		return fmt.Errorf("netio: marshal command: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connectError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	if err := checkAuth(resp); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP status %d", ErrWriteRejected, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, r)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrConnect, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func checkAuth(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: authentication failed (HTTP %d)", ErrConnect, resp.StatusCode)
	}
	return nil
}

// connectError classifies a transport failure, marking timeouts and deadline
// expiry with ErrTimeout as well.
func connectError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %w: %v", ErrConnect, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}
