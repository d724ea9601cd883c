package provider

import (
	"context"
	"net/http"

	"github.com/podforge/api/internal/config"
)

// SpeechifyAdapter synthesizes through the Speechify API.
type SpeechifyAdapter struct {
	httpAdapter
}

func NewSpeechifyAdapter(cfg *config.ProviderConfig, policy RetryPolicy) *SpeechifyAdapter {
	return &SpeechifyAdapter{httpAdapter: newHTTPAdapter(Speechify, "Speechify", cfg, policy, speechifyVoices)}
}

func (a *SpeechifyAdapter) IsAvailable() bool {
	return a.apiKey != ""
}

type speechifyVoice struct {
	ID           string `json:"id"`
	DisplayName  string `json:"display_name"`
	Locale       string `json:"locale"`
	Gender       string `json:"gender"`
	Type         string `json:"type"`
	PreviewAudio string `json:"preview_audio"`
}

func (a *SpeechifyAdapter) ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	var resp []speechifyVoice
	if err := a.getJSON(ctx, a.baseURL+"/v1/voices", header, &resp); err != nil {
		return nil, err
	}

	voices := make([]Voice, 0, len(resp))
	for _, v := range resp {
		name := v.DisplayName
		if name == "" {
			name = v.ID
		}
		voices = append(voices, Voice{
			ID:          v.ID,
			Name:        name,
			Provider:    Speechify,
			Language:    v.Locale,
			Gender:      v.Gender,
			Category:    v.Type,
			Description: name + " - " + v.Locale,
			PreviewURL:  v.PreviewAudio,
		})
	}
	return filter.Apply(voices, true), nil
}

type speechifyRequest struct {
	Model       string  `json:"model"`
	Input       string  `json:"input"`
	VoiceID     string  `json:"voice_id"`
	Speed       float64 `json:"speed,omitempty"`
	AudioFormat string  `json:"audio_format"`
}

func (a *SpeechifyAdapter) Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error) {
	payload := speechifyRequest{
		Model:       a.model,
		Input:       req.Text,
		VoiceID:     req.VoiceID,
		Speed:       req.Params.Speed,
		AudioFormat: "mp3",
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
