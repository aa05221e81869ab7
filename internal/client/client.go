// Package client is a minimal HTTP client for the holdfast daemon API.
// Enforcement callers use Decide, which fails closed: when the daemon is
// unreachable the answer is a denied decision, never a fallthrough grant.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/holdfast-sec/holdfast/internal/emergency"
	"github.com/holdfast-sec/holdfast/internal/model"
)

const requestTimeout = 5 * time.Second

// Client talks to a holdfast daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at baseURL,
// e.g. "http://127.0.0.1:8470".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// DecisionRequest mirrors the /v1/decision payload.
type DecisionRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	AgentID     string `json:"agent_id,omitempty"`
	Operation   string `json:"operation,omitempty"`
}

// Decide evaluates one decision on the daemon. Fail-closed: any transport
// or decode failure returns a denied decision naming the failure.
func (c *Client) Decide(req DecisionRequest) model.Decision {
	var d model.Decision
	if err := c.post("/v1/decision", req, &d); err != nil {
		return model.Deny(model.ReasonStoreUnavailable, fmt.Sprintf("holdfast daemon unreachable: %v", err))
	}
	return d
}

// Lockdown sets an emergency lockdown on a workspace.
func (c *Client) Lockdown(workspaceID, reason, actor string) error {
	return c.post("/v1/emergency/lockdown", map[string]string{
		"workspace_id": workspaceID,
		"reason":       reason,
		"actor":        actor,
	}, nil)
}

// LiftLockdown clears an active lockdown.
func (c *Client) LiftLockdown(workspaceID, actor string) error {
	return c.post("/v1/emergency/lockdown/lift", map[string]string{
		"workspace_id": workspaceID,
		"actor":        actor,
	}, nil)
}

// Quarantine suspends one user within one workspace. A zero duration
// quarantines until explicitly lifted.
func (c *Client) Quarantine(workspaceID, userID, reason, actor string, duration time.Duration) error {
	body := map[string]string{
		"workspace_id": workspaceID,
		"user_id":      userID,
		"reason":       reason,
		"actor":        actor,
	}
	if duration > 0 {
		body["duration"] = duration.String()
	}
	return c.post("/v1/emergency/quarantine", body, nil)
}

// LiftQuarantine clears an active quarantine.
func (c *Client) LiftQuarantine(workspaceID, userID, actor string) error {
	return c.post("/v1/emergency/quarantine/lift", map[string]string{
		"workspace_id": workspaceID,
		"user_id":      userID,
		"actor":        actor,
	}, nil)
}

// EmergencyState returns the active lockdowns and quarantines.
func (c *Client) EmergencyState() (emergency.State, error) {
	var st emergency.State
	err := c.get("/v1/emergency/state", &st)
	return st, err
}

// Health is the daemon's /v1/healthz response.
type Health struct {
	Status     string         `json:"status"`
	ConfigHash string         `json:"config_hash"`
	Stats      map[string]any `json:"stats"`
}

// Health returns the daemon's health and engine counters.
func (c *Client) Health() (Health, error) {
	var h Health
	err := c.get("/v1/healthz", &h)
	return h, err
}

func (c *Client) post(path string, body, dst any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func (c *Client) get(path string, dst any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dst)
}

func decodeResponse(resp *http.Response, dst any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
