// Package homeassistant implements the device transport on top of the Home
// Assistant REST API and watches its websocket event stream for doorbell
// presses.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ringflash/internal/device"
)

// DefaultTimeout is the HTTP timeout used when none is configured.
const DefaultTimeout = 10 * time.Second

// Client talks to the Home Assistant REST API with a long-lived token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new Home Assistant client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://supervisor/core"
	}

	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the access token, used by the websocket watcher.
func (c *Client) Token() string {
	return c.token
}

// Connect verifies the API is reachable and the token is accepted.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.request(ctx, http.MethodGet, "/api/", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}

	log.Info().Str("url", c.baseURL).Msg("Connected to Home Assistant")
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrTransport, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("%w: status %d: %s", device.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
}

type stateResponse struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
}

// Query fetches /api/states/<id>. Unknown entities are reported with
// Exists=false.
func (c *Client) Query(ctx context.Context, id string) (device.State, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/states/"+id, nil)
	if err != nil {
		return device.State{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return device.State{}, nil
	}
	if err := checkStatus(resp); err != nil {
		return device.State{}, err
	}

	var payload stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return device.State{}, fmt.Errorf("%w: decode state of %s: %v", device.ErrTransport, id, err)
	}

	return device.State{
		Exists:     true,
		Value:      payload.State,
		Attributes: payload.Attributes,
	}, nil
}

// Command calls /api/services/<domain>/<action> with the targets merged
// into the service data as entity_id.
func (c *Client) Command(ctx context.Context, domain, action string, targets []string, params map[string]any) error {
	data := make(map[string]any, len(params)+1)
	for k, v := range params {
		data[k] = v
	}
	if len(targets) > 0 {
		data["entity_id"] = targets
	}

	return c.CallService(ctx, domain, action, data)
}

// CallService calls an arbitrary service with raw service data.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}

	resp, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/api/services/%s/%s", domain, service), data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s.%s: %w", domain, service, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().Str("service", domain+"."+service).Interface("data", data).Msg("Service called")
	return nil
}

// CreateSnapshot captures targets into a dynamic scene named after name.
func (c *Client) CreateSnapshot(ctx context.Context, name string, targets []string) (device.SnapshotHandle, error) {
	err := c.CallService(ctx, device.DomainScene, "create", map[string]any{
		"scene_id":          name,
		"snapshot_entities": targets,
	})
	if err != nil {
		return device.SnapshotHandle{}, err
	}
	return device.SnapshotHandle{Name: name, Targets: append([]string(nil), targets...)}, nil
}

// Restore activates the snapshot scene and then removes it. Removal is best
// effort since dynamic scenes vanish on restart anyway.
func (c *Client) Restore(ctx context.Context, handle device.SnapshotHandle) error {
	scene := device.DomainScene + "." + handle.Name
	if err := c.CallService(ctx, device.DomainScene, "turn_on", map[string]any{"entity_id": scene}); err != nil {
		return err
	}
	if err := c.CallService(ctx, device.DomainScene, "delete", map[string]any{"entity_id": scene}); err != nil {
		log.Debug().Err(err).Str("scene", scene).Msg("Failed to delete snapshot scene")
	}
	return nil
}

// Members expands group-like entities (old-style groups and light groups)
// through their entity_id attribute.
func (c *Client) Members(ctx context.Context, id string) ([]string, bool, error) {
	st, err := c.Query(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !st.Exists {
		return nil, false, nil
	}
	members := device.AttrStrings(st.Attr("entity_id"))
	if len(members) == 0 {
		return nil, false, nil
	}
	return members, true, nil
}
