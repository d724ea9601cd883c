package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/podforge/api/internal/config"
)

// ElevenLabsAdapter synthesizes through the ElevenLabs text-to-speech API.
type ElevenLabsAdapter struct {
	httpAdapter
}

func NewElevenLabsAdapter(cfg *config.ProviderConfig, policy RetryPolicy) *ElevenLabsAdapter {
	return &ElevenLabsAdapter{httpAdapter: newHTTPAdapter(ElevenLabs, "ElevenLabs", cfg, policy, elevenLabsVoices)}
}

func (a *ElevenLabsAdapter) IsAvailable() bool {
	return a.apiKey != ""
}

type elevenLabsVoicesResponse struct {
	Voices []struct {
		VoiceID    string            `json:"voice_id"`
		Name       string            `json:"name"`
		Category   string            `json:"category"`
		Labels     map[string]string `json:"labels"`
		PreviewURL string            `json:"preview_url"`
	} `json:"voices"`
}

func (a *ElevenLabsAdapter) ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error) {
	header := http.Header{}
	header.Set("xi-api-key", a.apiKey)

	var resp elevenLabsVoicesResponse
	if err := a.getJSON(ctx, a.baseURL+"/v1/voices?show_legacy=true", header, &resp); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		voices = append(voices, Voice{
			ID:          v.VoiceID,
			Name:        v.Name,
			Provider:    ElevenLabs,
			Language:    v.Labels["language"],
			Gender:      v.Labels["gender"],
			Category:    v.Category,
			Description: v.Labels["description"],
			PreviewURL:  v.PreviewURL,
		})
	}
	return filter.Apply(voices, true), nil
}

type elevenLabsSpeechRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (a *ElevenLabsAdapter) Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error) {
	settings := elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if req.Params.Stability > 0 {
		settings.Stability = req.Params.Stability
	}
	if req.Params.SimilarityBoost > 0 {
		settings.SimilarityBoost = req.Params.SimilarityBoost
	}
	payload := elevenLabsSpeechRequest{Text: req.Text, ModelID: a.model, VoiceSettings: settings}
	endpoint := a.baseURL + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID)

	return a.streamAudio(ctx, req, "audio/mpeg", func(ctx context.Context) (*http.Request, error) {
		httpReq, err := a.jsonRequest(ctx, http.MethodPost, endpoint, payload)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("xi-api-key", a.apiKey)
		httpReq.Header.Set("Accept", "audio/mpeg")
		return httpReq, nil
	})
}
