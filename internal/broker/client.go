package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/parity/internal/privileged"
)

// Client talks to a running broker daemon. It satisfies
// privileged.BrokerClient.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client targeting the daemon at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Ping returns true if the daemon responds to GET /ping with 200.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Permitted reports whether this client's token has been granted.
func (c *Client) Permitted(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/permission", nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking permission: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// Exec runs command on the daemon and returns the raw result. It has no
// timeout of its own; the caller's context bounds the round trip.
func (c *Client) Exec(ctx context.Context, command string) (privileged.Output, error) {
	body, err := json.Marshal(ExecRequest{Command: command})
	if err != nil {
		return privileged.Output{}, fmt.Errorf("marshalling request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/exec", bytes.NewReader(body))
	if err != nil {
		return privileged.Output{}, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return privileged.Output{}, fmt.Errorf("sending exec: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return privileged.Output{}, privileged.Denied(privileged.NameBroker, "client permission not granted")
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return privileged.Output{}, &privileged.Error{
			Kind:    privileged.KindIOFailure,
			Backend: privileged.NameBroker,
			Detail:  fmt.Sprintf("broker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	var out ExecResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return privileged.Output{}, &privileged.Error{Kind: privileged.KindIOFailure, Backend: privileged.NameBroker, Detail: "decoding response", Err: err}
	}
	return privileged.Output{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}
