package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/podforge/api/internal/config"
)

// AudioProcessor defines the interface for the external mixing service
type AudioProcessor interface {
	Mix(ctx context.Context, req *MixRequest) (*MixResponse, error)
	HealthCheck(ctx context.Context) error
	IsConfigured() bool
}

// AudioClient implements AudioProcessor over HTTP
type AudioClient struct {
	httpClient *http.Client
	baseURL    string
}

// MixClip places one rendered segment on the output timeline
type MixClip struct {
	URL       string  `json:"url"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
	Volume    float64 `json:"volume"`
}

// MixTrack is one timeline track with its clips
type MixTrack struct {
	Name   string    `json:"name"`
	Volume float64   `json:"volume"`
	Muted  bool      `json:"muted,omitempty"`
	Solo   bool      `json:"solo,omitempty"`
	Clips  []MixClip `json:"clips"`
}

// MixRequest asks the service to render a timeline into one file
type MixRequest struct {
	Tracks     []MixTrack        `json:"tracks"`
	Format     string            `json:"format"`
	Bitrate    int               `json:"bitrate"`
	SampleRate int               `json:"sample_rate"`
	BitDepth   int               `json:"bit_depth"`
	Normalize  bool              `json:"normalize"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OutputKey  string            `json:"output_key"`
}

// MixResponse represents the rendered output
type MixResponse struct {
	OutputURL string  `json:"output_url"`
	Duration  float64 `json:"duration"`
	Size      int64   `json:"size"`
}

// NewAudioClient creates a new audio processing client
func NewAudioClient(cfg *config.AudioConfig) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Mix renders a timeline to a single file in storage
func (c *AudioClient) Mix(ctx context.Context, req *MixRequest) (*MixResponse, error) {
	var result MixResponse
	if err := c.post(ctx, "/mix", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the audio service is available
func (c *AudioClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *AudioClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audio service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *AudioClient) IsConfigured() bool {
	return c.baseURL != ""
}
