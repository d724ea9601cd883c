package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podforge/api/internal/auth"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/config"
	"github.com/podforge/api/internal/handler"
	"github.com/podforge/api/internal/model"
	"github.com/podforge/api/internal/provider"
	"github.com/podforge/api/internal/service"
	"github.com/podforge/api/internal/store"
	"github.com/podforge/api/internal/voice"
)

const testJWTSecret = "test-secret-for-router"

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, taskType, jobID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, taskType)
	return nil
}

type testApp struct {
	app      *fiber.App
	enqueuer *fakeEnqueuer
	token    string
}

// setupApp wires the router over memory stores, local storage and the mock
// TTS provider. Rate limiting is off since no Redis client is given.
func setupApp(t *testing.T, mutate ...func(*config.Config)) *testApp {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{Port: "0", Env: "test"},
		JWT:      config.JWTConfig{Secret: testJWTSecret},
		Pipeline: config.PipelineConfig{WordsPerMinute: 150, DefaultDuration: 30, Language: "en"},
	}
	for _, m := range mutate {
		m(cfg)
	}

	storage, err := client.NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	registry := provider.NewRegistry(
		provider.NewMockAdapter(),
		provider.NewOpenAIAdapter(&config.ProviderConfig{}, provider.DefaultRetryPolicy()),
	)
	resolver := voice.NewResolver(registry)
	researches := store.NewMemoryStore[*model.ResearchJob](model.JobKindResearch)
	productions := store.NewMemoryStore[*model.ProductionJob](model.JobKindProduction)
	enqueuer := &fakeEnqueuer{}

	app := NewRouter(Deps{
		Config:     cfg,
		Research:   service.NewResearchService(researches, enqueuer, storage, cfg.Pipeline),
		Production: service.NewProductionService(productions, researches, registry, resolver, enqueuer, storage, cfg.Pipeline),
		Registry:   registry,
		Resolver:   resolver,
		Checks: map[string]handler.Check{
			"redis": func(ctx context.Context) bool { return false },
			"tts":   func(ctx context.Context) bool { return true },
		},
	})

	token, err := auth.GenerateToken("user-1", "user@example.com", testJWTSecret, time.Hour)
	require.NoError(t, err)

	return &testApp{app: app, enqueuer: enqueuer, token: token}
}

func (ta *testApp) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var parsed map[string]interface{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &parsed), string(data))
	}
	return resp, parsed
}

func (ta *testApp) authed(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return ta.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + ta.token})
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected an error envelope, got %v", body)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "timestamp")
	assert.Equal(t, map[string]interface{}{"redis": false, "tts": true}, body["services"])
}

func TestAuthVerify(t *testing.T) {
	ta := setupApp(t)

	resp, _ := ta.do(t, http.MethodGet, "/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ta.authed(t, http.MethodGet, "/auth/verify", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user-1", resp.Header.Get("X-User-Id"))
	assert.Equal(t, "user@example.com", resp.Header.Get("X-User-Email"))
}

func TestAPI_RequiresAuth(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.do(t, http.MethodGet, "/api/research/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	resp, body = ta.do(t, http.MethodGet, "/api/research/history", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))
}

func TestAPI_GatewayMode(t *testing.T) {
	ta := setupApp(t, func(c *config.Config) { c.Gateway.Enabled = true })

	resp, _ := ta.do(t, http.MethodGet, "/api/research/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ta.do(t, http.MethodGet, "/api/research/history", "", map[string]string{"X-User-Id": "user-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total"])
}

func TestResearchStart_ThenResultIsNotReady(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodPost, "/api/research/start", `{"topic":"renewable energy","num_guests":1}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Len(t, ta.enqueuer.tasks, 1)

	resp, body = ta.authed(t, http.MethodGet, "/api/research/result/"+jobID, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "NOT_READY", errorCode(t, body))

	resp, body = ta.authed(t, http.MethodGet, "/api/research/status/"+jobID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobID, body["job_id"])

	resp, body = ta.authed(t, http.MethodGet, "/api/research/history", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"])
}

func TestResearchStart_Validation(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing topic", `{}`},
		{"topic too short", `{"topic":"ab"}`},
		{"too many guests", `{"topic":"renewable energy","num_guests":4}`},
		{"unknown audience", `{"topic":"renewable energy","audiences":["kids"]}`},
		{"malformed body", `{"topic":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ta.authed(t, http.MethodPost, "/api/research/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))
		})
	}
	assert.Empty(t, ta.enqueuer.tasks)
}

func TestResearchStart_EnqueueFailure(t *testing.T) {
	ta := setupApp(t)
	ta.enqueuer.err = errors.New("redis down")

	resp, body := ta.authed(t, http.MethodPost, "/api/research/start", `{"topic":"renewable energy"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "SERVICE_ERROR", errorCode(t, body))
}

func TestResearch_UnknownJob(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodGet, "/api/research/status/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}

func TestResearchCancel_Pending(t *testing.T) {
	ta := setupApp(t)

	_, body := ta.authed(t, http.MethodPost, "/api/research/start", `{"topic":"renewable energy"}`)
	jobID := body["job_id"].(string)

	resp, body := ta.authed(t, http.MethodPost, "/api/research/cancel/"+jobID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])

	resp, body = ta.authed(t, http.MethodGet, "/api/research/result/"+jobID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", errorCode(t, body))
}

func TestProductionStart_ResearchNotCompleted(t *testing.T) {
	ta := setupApp(t)

	_, body := ta.authed(t, http.MethodPost, "/api/research/start", `{"topic":"renewable energy"}`)
	jobID := body["job_id"].(string)

	resp, body := ta.authed(t, http.MethodPost, "/api/production/start",
		`{"research_job_id":"`+jobID+`","selected_variant":"young"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", errorCode(t, body))
}

func TestProductionStart_Validation(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodPost, "/api/production/start", `{"research_job_id":"x","selected_variant":"kids"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))
}

func TestVoices_Providers(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodGet, "/api/voices/providers", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	providers, ok := body["providers"].([]interface{})
	require.True(t, ok)
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.(map[string]interface{})["id"].(string))
	}
	assert.ElementsMatch(t, []string{"mock", "openai"}, ids)
}

func TestVoices_FallbackWhenProviderUnavailable(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodGet, "/api/voices/openai?gender=female", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fallback", body["source"])
	assert.NotEmpty(t, body["voices"])
}

func TestVoices_UnknownProvider(t *testing.T) {
	ta := setupApp(t)

	resp, body := ta.authed(t, http.MethodGet, "/api/voices/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NO_VOICES_AVAILABLE", errorCode(t, body))

	details := body["error"].(map[string]interface{})["details"].(map[string]interface{})
	assert.Equal(t, "nope", details["provider"])
	assert.NotEmpty(t, details["alternatives"])
}
