package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
)

// HTTPClient talks to the admin endpoint.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	password string
}

// NewHTTPClient creates a new HTTP client.
func NewHTTPClient(server, password string) *HTTPClient {
	baseURL := strings.TrimSuffix(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return &HTTPClient{
		baseURL:  baseURL,
		password: password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.password != "" {
		req.Header.Set("Authorization", "Bearer "+c.password)
	}
	req.Header.Set("User-Agent", "sabledb-cli/"+buildinfo.Version)
	return c.client.Do(req)
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// envelope mirrors the admin response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Details   json.RawMessage `json:"details"`
}

// ParseResponse decodes the data of an admin response into target. For
// error statuses it returns "[code] message". Unhealthy /healthz replies
// carry the health report in details; it is decoded into target as well.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr != nil || env.Message == "" {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		if target != nil && len(env.Details) > 0 {
			_ = json.Unmarshal(env.Details, target)
		}
		return fmt.Errorf("[%s] %s", env.Code, env.Message)
	}

	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
