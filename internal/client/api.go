package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrShutdownUnavailable indicates the gateway has no shutdown hook wired,
// so the caller should fall back to signalling the daemon process.
var ErrShutdownUnavailable = errors.New("client: daemon shutdown endpoint unavailable")

const errorMessageLimit = 2048

// StatusResponse mirrors the gateway's /status payload.
type StatusResponse struct {
	Status           string            `json:"status"`
	Version          string            `json:"version"`
	Uptime           int64             `json:"uptime"`
	Port             int               `json:"port"`
	Modules          []ModuleStatus    `json:"modules"`
	Conversation     *ConversationInfo `json:"conversation,omitempty"`
	Bus              *BusMetrics       `json:"bus,omitempty"`
	WebsocketClients int               `json:"websocket_clients"`
}

// ModuleStatus is one module's health snapshot as reported by /status.
type ModuleStatus struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationInfo carries the conversation worker counters.
type ConversationInfo struct {
	QueueDepth int `json:"queue_depth"`
}

// BusMetrics carries the event bus counters.
type BusMetrics struct {
	Published       uint64 `json:"published"`
	Delivered       uint64 `json:"delivered"`
	HandlerFailures uint64 `json:"handler_failures"`
}

// HistoryMessage is one retained conversation turn.
type HistoryMessage struct {
	ID        string            `json:"id"`
	Speaker   string            `json:"speaker"`
	Text      string            `json:"text"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var status StatusResponse
	if err := c.getJSON(ctx, "/status", &status); err != nil {
		return StatusResponse{}, fmt.Errorf("client: fetch status: %w", err)
	}
	return status, nil
}

// SendText publishes one line of text input and returns the correlation id
// assigned by the gateway.
func (c *Client) SendText(ctx context.Context, text string, metadata map[string]string) (string, error) {
	payload := map[string]any{"text": text}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	var result struct {
		Status        string `json:"status"`
		CorrelationID string `json:"correlation_id"`
	}
	if err := c.postJSON(ctx, "/input/text", payload, &result, http.StatusAccepted); err != nil {
		return "", fmt.Errorf("client: send text: %w", err)
	}
	return result.CorrelationID, nil
}

// History fetches the retained conversation. limit <= 0 returns everything
// the daemon kept.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryMessage, error) {
	path := "/conversation/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var payload struct {
		Count    int              `json:"count"`
		Messages []HistoryMessage `json:"messages"`
	}
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, fmt.Errorf("client: fetch history: %w", err)
	}
	return payload.Messages, nil
}

// Metrics fetches the Prometheus exposition payload.
func (c *Client) Metrics(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("client: build metrics request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fetch metrics: %s", readErrorMessage(resp))
	}
	return io.ReadAll(resp.Body)
}

// ShutdownDaemon asks the daemon to stop. The request returns as soon as the
// gateway accepted it; the daemon winds down asynchronously.
func (c *Client) ShutdownDaemon(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/daemon/shutdown", nil)
	if err != nil {
		return fmt.Errorf("client: build shutdown request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: request shutdown: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusNotImplemented:
		return ErrShutdownUnavailable
	default:
		return fmt.Errorf("client: request shutdown: %s", readErrorMessage(resp))
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(readErrorMessage(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any, want int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return errors.New(readErrorMessage(resp))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// readErrorMessage extracts a short error body, falling back to the HTTP
// status line.
func readErrorMessage(resp *http.Response) string {
	limited := io.LimitReader(resp.Body, errorMessageLimit)
	data, err := io.ReadAll(limited)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return strings.TrimSpace(resp.Status)
	}
	return strings.TrimSpace(string(data))
}
