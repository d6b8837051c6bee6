// Package client talks to a running Ada daemon through its local HTTP
// gateway. CLI commands use it for status, text input, history, metrics and
// the live event stream.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ada-ai/ada/internal/config"
	configstore "github.com/ada-ai/ada/internal/config/store"
	"github.com/ada-ai/ada/internal/constants"
)

// EnvBaseURL overrides the gateway address resolved from the config store.
const EnvBaseURL = "ADA_BASE_URL"

// settingDaemonPort is written by the daemon once its gateway is bound.
const settingDaemonPort = "daemon.http_port"

const (
	storeQueryTimeout         = 5 * time.Second
	websocketHandshakeTimeout = 10 * time.Second
)

// Client is an HTTP/WebSocket client for one daemon instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New resolves the daemon address and returns a ready client. home overrides
// the instance directory, empty means the default Ada home.
func New(home string) (*Client, error) {
	if base := strings.TrimSpace(os.Getenv(EnvBaseURL)); base != "" {
		return newFromExplicit(base)
	}

	port, err := storedDaemonPort(home)
	if err != nil {
		return nil, err
	}
	return NewWithBaseURL(fmt.Sprintf("http://127.0.0.1:%d", port)), nil
}

// NewWithBaseURL constructs a client from an explicit gateway base URL.
func NewWithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: constants.ClientRequestTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocketHandshakeTimeout,
		},
	}
}

// BaseURL returns the gateway base URL this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func newFromExplicit(raw string) (*Client, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("client: parse %s: %w", EnvBaseURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: %s is missing a host", EnvBaseURL)
	}
	return NewWithBaseURL(u.String()), nil
}

// storedDaemonPort reads the port the daemon recorded at startup.
func storedDaemonPort(home string) (int, error) {
	paths := config.GetInstancePaths(home)

	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	store, err := configstore.Open(ctx, configstore.Options{
		DBPath:   paths.ConfigDB,
		ReadOnly: true,
	})
	if err != nil {
		return 0, fmt.Errorf("client: open config store: %w", err)
	}
	defer store.Close()

	value, err := store.GetSetting(ctx, settingDaemonPort)
	if err != nil {
		if configstore.IsNotFound(err) {
			return 0, fmt.Errorf("client: daemon HTTP port not recorded; is adad running?")
		}
		return 0, fmt.Errorf("client: read daemon port: %w", err)
	}

	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("client: recorded daemon port %q is unusable", value)
	}
	return port, nil
}
