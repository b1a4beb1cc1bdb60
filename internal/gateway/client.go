package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentwatch/agentwatch/pkg/models"
)

const (
	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 5
	maxErrorBody             = 4096
)

// Client defines the calls the dashboard makes against the gateway. Every
// call may fail; callers that must not fail use Source.
type Client interface {
	// GetCostSamples returns cost samples, optionally for one entity
	GetCostSamples(ctx context.Context, entityID string) ([]models.CostSample, error)

	// GetEntities returns the agents known to the gateway
	GetEntities(ctx context.Context) ([]models.Entity, error)

	// GetResourceSnapshot returns the current resource usage of an agent
	GetResourceSnapshot(ctx context.Context, entityID string) (*models.ResourceSnapshot, error)

	// HealthCheck reports gateway availability and round-trip latency
	HealthCheck(ctx context.Context) (models.HealthStatus, error)
}

// HTTPClient implements Client over the gateway's REST API
type HTTPClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the HTTP client
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *HTTPClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewHTTPClient creates a gateway client for baseURL
func NewHTTPClient(baseURL, token string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		token:      token,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetCostSamples returns cost samples, optionally filtered by entity
func (c *HTTPClient) GetCostSamples(ctx context.Context, entityID string) ([]models.CostSample, error) {
	path := "/api/costs"
	if entityID != "" {
		path += "?entityId=" + url.QueryEscape(entityID)
	}

	var resp costSamplesResponse
	if err := c.get(ctx, "GetCostSamples", path, &resp); err != nil {
		return nil, err
	}

	samples := make([]models.CostSample, 0, len(resp.Samples))
	for _, s := range resp.Samples {
		sample, err := s.toModel()
		if err != nil {
			return nil, NewGatewayError("GetCostSamples", 0, err.Error(), ErrInvalidResponse)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// GetEntities returns the agents known to the gateway
func (c *HTTPClient) GetEntities(ctx context.Context) ([]models.Entity, error) {
	var resp entitiesResponse
	if err := c.get(ctx, "GetEntities", "/api/agents", &resp); err != nil {
		return nil, err
	}
	if resp.Agents == nil {
		return []models.Entity{}, nil
	}
	return resp.Agents, nil
}

// GetResourceSnapshot returns an agent's current resource usage
func (c *HTTPClient) GetResourceSnapshot(ctx context.Context, entityID string) (*models.ResourceSnapshot, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity ID is required")
	}

	var snap models.ResourceSnapshot
	path := "/api/agents/" + url.PathEscape(entityID) + "/resources"
	if err := c.get(ctx, "GetResourceSnapshot", path, &snap); err != nil {
		return nil, err
	}

	snap.EntityID = entityID
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = c.now().UTC()
	}
	return &snap, nil
}

// HealthCheck calls the gateway health endpoint. A gateway that cannot be
// reached or answers non-2xx is reported down together with the error.
func (c *HTTPClient) HealthCheck(ctx context.Context) (models.HealthStatus, error) {
	start := c.now()

	req, err := c.newRequest(ctx, "/health")
	if err != nil {
		return models.HealthStatus{Status: models.GatewayDown}, err
	}

	resp, err := c.httpClient.Do(req)
	latency := c.now().Sub(start).Milliseconds()
	if err != nil {
		return models.HealthStatus{Status: models.GatewayDown, LatencyMs: latency},
			NewGatewayError("HealthCheck", 0, err.Error(), ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.HealthStatus{Status: models.GatewayDown, LatencyMs: latency},
			c.handleError(resp, "HealthCheck")
	}

	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return models.HealthStatus{Status: models.GatewayUp, LatencyMs: latency}, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, path string) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *HTTPClient) get(ctx context.Context, operation, path string, out interface{}) error {
	req, err := c.newRequest(ctx, path)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return NewGatewayError(operation, 0, err.Error(), ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleError(resp, operation)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewGatewayError(operation, resp.StatusCode, "failed to decode response: "+err.Error(), ErrInvalidResponse)
	}
	return nil
}

// handleError converts HTTP errors to gateway errors
func (c *HTTPClient) handleError(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := strings.TrimSpace(string(body))

	var baseErr error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		baseErr = ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		baseErr = ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		baseErr = ErrNotFound
	case resp.StatusCode >= 500:
		baseErr = ErrUnavailable
	default:
		baseErr = ErrInvalidResponse
	}

	return NewGatewayError(operation, resp.StatusCode, message, baseErr)
}
