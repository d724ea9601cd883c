package provider

import (
	"context"
	"net/http"
	"unicode/utf8"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

const openAIMaxInput = 4096

// OpenAIAdapter synthesizes through the OpenAI speech endpoint.
type OpenAIAdapter struct {
	httpAdapter
}

func NewOpenAIAdapter(cfg *config.ProviderConfig, policy RetryPolicy) *OpenAIAdapter {
	return &OpenAIAdapter{httpAdapter: newHTTPAdapter(OpenAI, "OpenAI TTS", cfg, policy, openAIVoices)}
}

func (a *OpenAIAdapter) IsAvailable() bool {
	return a.apiKey != ""
}

// ListVoices filters the fixed catalog; the API has no voice listing endpoint.
func (a *OpenAIAdapter) ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error) {
	return filter.Apply(openAIVoices, true), nil
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

func (a *OpenAIAdapter) Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error) {
	if utf8.RuneCountInString(req.Text) > openAIMaxInput {
		return nil, &apperr.ProviderError{Provider: a.id, StatusCode: http.StatusBadRequest, Message: "text exceeds 4096 characters"}
	}
	speed := req.Params.Speed
	if speed == 0 {
		speed = 1.0
	}
	payload := openAISpeechRequest{
		Model:          a.model,
		Input:          req.Text,
		Voice:          req.VoiceID,
		Speed:          speed,
		ResponseFormat: "mp3",
	}

	return a.streamAudio(ctx, req, "audio/mpeg", func(ctx context.Context) (*http.Request, error) {
		httpReq, err := a.jsonRequest(ctx, http.MethodPost, a.baseURL+"/v1/audio/speech", payload)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
		return httpReq, nil
	})
}
