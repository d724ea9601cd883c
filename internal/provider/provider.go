// Package provider wraps speech-synthesis backends behind one Adapter
// interface. Adapters are registered once at startup and looked up by id.
package provider

import (
	"context"
	"io"
	"sort"
	"strings"
)

// Provider identifiers
const (
	OpenAI     = "openai"
	ElevenLabs = "elevenlabs"
	Speechify  = "speechify"
	Google     = "google"
	Mock       = "mock"
)

// Voice is one entry of a provider's catalog
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Language    string `json:"language,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
}

// VoiceFilter narrows a catalog. Empty fields match everything.
type VoiceFilter struct {
	Language string `json:"language,omitempty" query:"language"`
	Gender   string `json:"gender,omitempty" query:"gender"`
	Category string `json:"category,omitempty" query:"category"`
}

func (f VoiceFilter) IsEmpty() bool {
	return f.Language == "" && f.Gender == "" && f.Category == ""
}

// Map returns the set filters, used in error details.
func (f VoiceFilter) Map() map[string]string {
	m := make(map[string]string)
	if f.Language != "" {
		m["language"] = f.Language
	}
	if f.Gender != "" {
		m["gender"] = f.Gender
	}
	if f.Category != "" {
		m["category"] = f.Category
	}
	return m
}

// Matches reports whether v passes the filter. The language check is skipped
// when withLanguage is false. Voices without a language label are treated as
// multilingual.
func (f VoiceFilter) Matches(v Voice, withLanguage bool) bool {
	if f.Gender != "" && !strings.EqualFold(v.Gender, f.Gender) {
		return false
	}
	if f.Category != "" && !strings.EqualFold(v.Category, f.Category) {
		return false
	}
	if withLanguage && f.Language != "" && v.Language != "" {
		lang := strings.ToLower(v.Language)
		want := strings.ToLower(f.Language)
		if lang != want && !strings.HasPrefix(lang, want+"-") && !strings.HasPrefix(want, lang+"-") {
			return false
		}
	}
	return true
}

// Apply returns the voices matching the filter.
func (f VoiceFilter) Apply(voices []Voice, withLanguage bool) []Voice {
	out := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if f.Matches(v, withLanguage) {
			out = append(out, v)
		}
	}
	return out
}

// SynthesisParams tunes a synthesis call. Zero values mean provider defaults.
type SynthesisParams struct {
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
	Language        string  `json:"language,omitempty"`
}

// ArtifactWriter receives synthesized audio. StorageClient implementations satisfy it.
type ArtifactWriter interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// SynthesisRequest asks an adapter to render text into Sink under Key.
type SynthesisRequest struct {
	Text    string
	VoiceID string
	Params  SynthesisParams
	Sink    ArtifactWriter
	Key     string
}

// AudioHandle points at synthesized audio; the bytes live in storage.
type AudioHandle struct {
	Provider    string `json:"provider"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	// DurationSeconds is zero when the backend does not report it.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Adapter is implemented once per synthesis backend.
type Adapter interface {
	ID() string
	Name() string
	// IsAvailable is a local capability check and never performs I/O.
	IsAvailable() bool
	ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error)
	// Synthesize retries transient failures and returns a *apperr.ProviderError on exhaustion.
	Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error)
	// EstimateCost returns USD for the given character count.
	EstimateCost(characters int) float64
	// FallbackVoices is the static catalog used when the live list is unusable.
	FallbackVoices() []Voice
}

// Info summarizes an adapter for the voice catalog API
type Info struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Available    bool    `json:"available"`
	CostPer1K    float64 `json:"cost_per_1k_chars"`
	FallbackSize int     `json:"fallback_voices"`
}

// Registry maps provider ids to adapters. It is immutable after startup.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToLower(id)]
	return a, ok
}

// IDs returns registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Alternatives returns available providers other than exclude.
func (r *Registry) Alternatives(exclude string) []string {
	var out []string
	for _, id := range r.IDs() {
		if id == exclude {
			continue
		}
		if r.adapters[id].IsAvailable() && len(r.adapters[id].FallbackVoices()) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) Infos() []Info {
	infos := make([]Info, 0, len(r.adapters))
	for _, id := range r.IDs() {
		a := r.adapters[id]
		infos = append(infos, Info{
			ID:           a.ID(),
			Name:         a.Name(),
			Available:    a.IsAvailable(),
			CostPer1K:    a.EstimateCost(1000),
			FallbackSize: len(a.FallbackVoices()),
		})
	}
	return infos
}
