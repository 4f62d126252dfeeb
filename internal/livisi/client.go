// Package livisi implements the parts of the LIVISI SmartHome Controller (SHC) local API
// needed to read and control climate devices.
package livisi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	apiPort         = "8080"
	eventsPortV1    = "8080"
	eventsPortV2    = "9090"
	actionNamespace = "core.RWE"
	requestTimeout  = 30 * time.Second
)

// Client talks to a SmartHome Controller.
type Client struct {
	HTTPClient *http.Client
	host       string
	baseURL    string
	eventsURL  string
	transport  http.RoundTripper
	metrics    metrics.RequestMetrics
	tokens     *tokenSource
	dialer     *websocket.Dialer
	logger     *slog.Logger
	lock       sync.RWMutex
	controller *ControllerInfo
}

type Option func(*Client)

// WithBaseURL overrides the URL of the controller's API. By default, the client uses port 8080 on the controller's host.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithEventsURL overrides the URL of the controller's event stream.
func WithEventsURL(url string) Option {
	return func(c *Client) {
		c.eventsURL = url
	}
}

// WithRoundTripper sets the http.RoundTripper used to reach the controller.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithRequestMetrics records all calls to the controller in the provided metrics.
func WithRequestMetrics(m metrics.RequestMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a Client for the controller at host.
func New(host, username, password string, options ...Option) *Client {
	c := Client{
		host:      host,
		baseURL:   "http://" + net.JoinHostPort(host, apiPort),
		transport: http.DefaultTransport,
		dialer:    websocket.DefaultDialer,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(&c)
	}
	if c.metrics != nil {
		c.transport = roundtripper.New(
			roundtripper.WithRequestMetrics(c.metrics),
			roundtripper.WithRoundTripper(c.transport),
		)
	}

	c.tokens = newTokenSource(&passwordGrant{
		httpClient: &http.Client{Transport: c.transport, Timeout: requestTimeout},
		url:        c.baseURL + "/auth/token",
		username:   username,
		password:   password,
	})
	c.HTTPClient = &http.Client{
		Transport: &oauth2.Transport{Source: c.tokens, Base: c.transport},
		Timeout:   requestTimeout,
	}
	return &c
}

// Controller returns the controller's information. The first successful response is cached.
func (c *Client) Controller(ctx context.Context) (ControllerInfo, error) {
	c.lock.RLock()
	controller := c.controller
	c.lock.RUnlock()
	if controller != nil {
		return *controller, nil
	}

	var status statusResponse
	if err := c.call(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return ControllerInfo{}, fmt.Errorf("status: %w", err)
	}
	info := status.controllerInfo()

	c.lock.Lock()
	c.controller = &info
	c.lock.Unlock()
	c.logger.Debug("controller found", "type", info.ControllerType, "version", info.AppVersion, "v2", info.IsV2())
	return info, nil
}

// IsV2 returns true if the controller speaks the v2 API. Returns false until Controller has succeeded.
func (c *Client) IsV2() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.controller != nil && c.controller.IsV2()
}

// GetDevices returns all devices known to the controller, with their capabilities and room.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	var devices []device
	if err := c.call(ctx, http.MethodGet, "/device", nil, &devices); err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	var capabilities []capability
	if err := c.call(ctx, http.MethodGet, "/capability", nil, &capabilities); err != nil {
		return nil, fmt.Errorf("capability: %w", err)
	}
	var locations []location
	if err := c.call(ctx, http.MethodGet, "/location", nil, &locations); err != nil {
		return nil, fmt.Errorf("location: %w", err)
	}
	return buildDevices(devices, capabilities, locations), nil
}

func buildDevices(devices []device, capabilities []capability, locations []location) []Device {
	capabilitiesByID := make(map[string]capability, len(capabilities))
	for _, c := range capabilities {
		capabilitiesByID[c.ID] = c
	}
	rooms := make(map[string]string, len(locations))
	for _, l := range locations {
		rooms[l.ID] = l.Config.Name
	}

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		entry := Device{
			ID:               d.ID,
			Type:             d.Type,
			Capabilities:     make(map[string]string),
			CapabilityConfig: make(map[string]map[string]any),
		}
		if name, ok := d.Config["name"].(string); ok {
			entry.Name = name
		}
		if locationID, ok := trimRef(d.Location, locationPrefix); ok {
			entry.Room = rooms[locationID]
		}
		for _, ref := range d.Capabilities {
			capabilityID, ok := trimRef(ref, capabilityPrefix)
			if !ok {
				continue
			}
			c, ok := capabilitiesByID[capabilityID]
			if !ok {
				continue
			}
			entry.Capabilities[c.Type] = c.ID
			if len(c.Config) > 0 {
				entry.CapabilityConfig[c.Type] = c.Config
			}
		}
		result = append(result, entry)
	}
	return result
}

// GetDeviceState returns the value of a capability's state field. If the capability doesn't report the field,
// GetDeviceState returns nil.
func (c *Client) GetDeviceState(ctx context.Context, capabilityID string, field string) (any, error) {
	var state map[string]stateValue
	if err := c.call(ctx, http.MethodGet, capabilityPrefix+capabilityID+"/state", nil, &state); err != nil {
		return nil, fmt.Errorf("capability state: %w", err)
	}
	value, ok := state[field]
	if !ok {
		return nil, nil
	}
	return value.Value, nil
}

// SetState sets a capability's state field to value. It returns true if the controller accepted the change.
func (c *Client) SetState(ctx context.Context, capabilityID string, field string, value any) (bool, error) {
	request := action{
		ID:        uuid.NewString(),
		Type:      "SetState",
		Namespace: actionNamespace,
		Target:    capabilityPrefix + capabilityID,
		Params:    map[string]actionParam{field: {Type: "Constant", Value: value}},
	}
	var result actionResult
	if err := c.call(ctx, http.MethodPost, "/action", request, &result); err != nil {
		return false, fmt.Errorf("action: %w", err)
	}
	ok := result.ResultCode == "" || result.ResultCode == "Success"
	if !ok {
		c.logger.Warn("controller rejected action", "capability", capabilityID, "field", field, "result", result.ResultCode)
	}
	return ok, nil
}

// APIError is returned when the controller responds with a non-2xx status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), strings.TrimSpace(e.Body))
}

func (c *Client) call(ctx context.Context, method, path string, request any, response any) error {
	var body io.Reader
	if request != nil {
		payload, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if request != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// the controller forgets tokens when it restarts
		c.tokens.reset()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	if response == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err = json.Unmarshal(payload, response); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// tokenSource caches tokens from the password grant and allows the cached token to be discarded.
type tokenSource struct {
	grant   oauth2.TokenSource
	lock    sync.RWMutex
	current oauth2.TokenSource
}

func newTokenSource(grant oauth2.TokenSource) *tokenSource {
	return &tokenSource{grant: grant, current: oauth2.ReuseTokenSource(nil, grant)}
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	t.lock.RLock()
	current := t.current
	t.lock.RUnlock()
	return current.Token()
}

func (t *tokenSource) reset() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.current = oauth2.ReuseTokenSource(nil, t.grant)
}
