// Package node is the HTTP client for remote node agents. Every call is
// authenticated with basic auth: the fixed username plus the node's stored
// API key as password.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skyportlabs/panel/internal/store"
)

const basicAuthUser = "Skyport"

// PortBinding is one host-side binding for an exposed container port. The
// host port keeps its original string form.
type PortBinding struct {
	HostPort string `json:"HostPort"`
}

// RedeployPayload is the wire body for the node agent's redeploy endpoint.
type RedeployPayload struct {
	Name         string                   `json:"name"`
	ID           string                   `json:"id"`
	Image        string                   `json:"image"`
	Env          []string                 `json:"env"`
	Scripts      []string                 `json:"scripts"`
	Memory       int                      `json:"memory"`
	CPU          int                      `json:"cpu"`
	ExposedPorts map[string]struct{}      `json:"ExposedPorts"`
	PortBindings map[string][]PortBinding `json:"PortBindings"`
	AltImages    []string                 `json:"altImages"`
	Labels       map[string]string        `json:"labels"`
}

// RedeployResult is what the node agent returns for a successful redeploy.
type RedeployResult struct {
	ContainerID string `json:"containerId"`
	VolumeID    string `json:"volumeId"`
}

// UpstreamError carries the node agent's status and body back to the caller.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("node agent returned status %d: %s", e.Status, e.Body)
}

type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a node client. The timeout applies per request, to the
// existence check, the redeploy call, and the delete alike.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// ContainerExists asks the node agent whether it still knows the container.
// An empty body counts as "gone": redeploying a container the node no longer
// tracks would orphan it.
func (c *Client) ContainerExists(ctx context.Context, n store.Node, containerID string) error {
	req, err := c.newRequest(ctx, http.MethodGet, n, "/instances/"+containerID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("container check request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" || trimmed == "false" {
		return fmt.Errorf("node agent has no record of container %s", containerID)
	}
	return nil
}

// Redeploy replaces the container's configuration on the node. The response
// must carry the new container id; the volume id defaults at the caller.
func (c *Client) Redeploy(ctx context.Context, n store.Node, containerID string, payload RedeployPayload) (RedeployResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return RedeployResult{}, fmt.Errorf("marshal redeploy payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, n, "/instances/redeploy/"+containerID, bytes.NewReader(body))
	if err != nil {
		return RedeployResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return RedeployResult{}, fmt.Errorf("redeploy request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RedeployResult{}, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result RedeployResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return RedeployResult{}, fmt.Errorf("decode redeploy response: %w", err)
	}
	if result.ContainerID == "" {
		return RedeployResult{}, fmt.Errorf("redeploy response missing container id")
	}
	return result, nil
}

// RemoveContainer is the compensating delete for a container created by a
// redeploy whose follow-up work failed. Callers treat errors as best-effort.
func (c *Client) RemoveContainer(ctx context.Context, n store.Node, containerID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, n, "/instances/"+containerID, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("container delete request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Status: resp.StatusCode, Body: ""}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, n store.Node, path string, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("http://%s:%d%s", n.Address, n.Port, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build node request: %w", err)
	}
	req.SetBasicAuth(basicAuthUser, n.APIKey)
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	c.logger.Debug("node_request",
		slog.String("method", method),
		slog.String("url", url),
		slog.String("node_id", n.ID),
	)
	return req, nil
}
