package provider

import (
	"bytes"
	"context"
	"math"
	"strings"

	"github.com/podforge/api/internal/apperr"
)

// Silent MPEG-1 Layer III frame: 128 kbps, 44.1 kHz, mono.
const (
	mp3FrameSize     = 417
	mp3FrameDuration = 1152.0 / 44100.0
	wordsPerSecond   = 2.5
)

var silentFrameHeader = []byte{0xFF, 0xFB, 0x90, 0xC0}

// MockAdapter renders silence sized to the text. It needs no network and is
// used in development and tests.
type MockAdapter struct {
	// FailOn makes Synthesize fail for texts containing the marker.
	FailOn string
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (a *MockAdapter) ID() string        { return Mock }
func (a *MockAdapter) Name() string      { return "Mock TTS" }
func (a *MockAdapter) IsAvailable() bool { return true }

func (a *MockAdapter) EstimateCost(characters int) float64 {
	return 0
}

func (a *MockAdapter) FallbackVoices() []Voice {
	return append([]Voice(nil), mockVoices...)
}

func (a *MockAdapter) ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error) {
	return filter.Apply(mockVoices, true), nil
}

func (a *MockAdapter) Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error) {
	if req.Sink == nil || req.Key == "" {
		return nil, apperr.Validation("synthesis requires an artifact location")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, &apperr.ProviderError{Provider: Mock, Message: "empty text"}
	}
	if a.FailOn != "" && strings.Contains(req.Text, a.FailOn) {
		return nil, &apperr.ProviderError{Provider: Mock, StatusCode: 500, Message: "simulated failure", Attempts: 1}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	duration := float64(len(strings.Fields(req.Text))) / wordsPerSecond
	audio := SilentMP3(duration)

	location, err := req.Sink.Upload(ctx, req.Key, bytes.NewReader(audio), "audio/mpeg")
	if err != nil {
		return nil, err
	}
	return &AudioHandle{
		Provider:        Mock,
		Key:             req.Key,
		URL:             location,
		ContentType:     "audio/mpeg",
		Size:            int64(len(audio)),
		DurationSeconds: duration,
	}, nil
}

// SilentMP3 returns a stream of silent frames lasting at least seconds.
func SilentMP3(seconds float64) []byte {
	frames := int(math.Ceil(seconds / mp3FrameDuration))
	if frames < 1 {
		frames = 1
	}
	frame := make([]byte, mp3FrameSize)
	copy(frame, silentFrameHeader)
	return bytes.Repeat(frame, frames)
}
