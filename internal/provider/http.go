package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

// maxErrorBody caps how much of an error response is kept as the message.
const maxErrorBody = 4096

// PolicyFromConfig builds the shared retry policy.
func PolicyFromConfig(cfg *config.ProvidersConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffMillis > 0 {
		policy.BaseBackoff = time.Duration(cfg.BackoffMillis) * time.Millisecond
		policy.MaxBackoff = 8 * policy.BaseBackoff
	}
	if cfg.TimeoutSeconds > 0 {
		policy.AttemptTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return policy
}

// httpAdapter carries what the HTTP-backed adapters share.
type httpAdapter struct {
	id          string
	name        string
	apiKey      string
	baseURL     string
	model       string
	costPerChar float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       RetryPolicy
	fallback    []Voice
}

func newHTTPAdapter(id, name string, cfg *config.ProviderConfig, policy RetryPolicy, fallback []Voice) httpAdapter {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return httpAdapter{
		id:          id,
		name:        name,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		costPerChar: cfg.CostPerChar,
		// per-attempt deadlines come from the retry policy
		httpClient: &http.Client{},
		limiter:    limiter,
		retry:      policy,
		fallback:   fallback,
	}
}

func (a *httpAdapter) ID() string   { return a.id }
func (a *httpAdapter) Name() string { return a.name }

func (a *httpAdapter) EstimateCost(characters int) float64 {
	return float64(characters) * a.costPerChar
}

func (a *httpAdapter) FallbackVoices() []Voice {
	return append([]Voice(nil), a.fallback...)
}

func (a *httpAdapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

// checkStatus turns a non-2xx response into a classified ProviderError.
func (a *httpAdapter) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return apperr.NewStatusError(a.id, resp.StatusCode, strings.TrimSpace(string(body)))
}

// getJSON fetches a JSON document with retries.
func (a *httpAdapter) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	return Retry(ctx, a.id, a.retry, func(ctx context.Context) error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header = header.Clone()
		req.Header.Set("Accept", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := a.checkStatus(resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode voices: %w", err)
		}
		return nil
	})
}

// streamAudio performs the synthesis request and streams a successful body
// straight into the sink, so long texts never sit in memory.
func (a *httpAdapter) streamAudio(ctx context.Context, req SynthesisRequest, contentType string, build func(ctx context.Context) (*http.Request, error)) (*AudioHandle, error) {
	if req.Sink == nil || req.Key == "" {
		return nil, apperr.Validation("synthesis requires an artifact location")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, &apperr.ProviderError{Provider: a.id, Message: "empty text"}
	}

	var handle *AudioHandle
	err := Retry(ctx, a.id, a.retry, func(ctx context.Context) error {
		if err := a.wait(ctx); err != nil {
			return err
		}
		httpReq, err := build(ctx)
		if err != nil {
			return err
		}
		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := a.checkStatus(resp); err != nil {
			return err
		}

		body := &countingReader{r: resp.Body}
		url, err := req.Sink.Upload(ctx, req.Key, body, contentType)
		if err != nil {
			return err
		}
		if body.n == 0 {
			return &apperr.ProviderError{Provider: a.id, StatusCode: resp.StatusCode, Message: "empty audio response"}
		}
		handle = &AudioHandle{
			Provider:    a.id,
			Key:         req.Key,
			URL:         url,
			ContentType: contentType,
			Size:        body.n,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

func (a *httpAdapter) jsonRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
