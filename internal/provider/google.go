package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

// googleChunkSize is the longest text the translate endpoint accepts per call.
const googleChunkSize = 200

// googleMaxChunkBytes caps the audio read for one chunk.
const googleMaxChunkBytes = 4 << 20

// GoogleAdapter uses the keyless translate TTS endpoint. The voice id is a
// language code.
type GoogleAdapter struct {
	httpAdapter
	enabled bool
}

func NewGoogleAdapter(cfg *config.ProviderConfig, policy RetryPolicy) *GoogleAdapter {
	return &GoogleAdapter{
		httpAdapter: newHTTPAdapter(Google, "Google TTS", cfg, policy, googleFallbackVoices),
		enabled:     cfg.Enabled,
	}
}

func (a *GoogleAdapter) IsAvailable() bool {
	return a.enabled
}

func (a *GoogleAdapter) ListVoices(ctx context.Context, filter VoiceFilter) ([]Voice, error) {
	codes := make([]string, 0, len(googleLanguages))
	for code := range googleLanguages {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	voices := make([]Voice, 0, len(codes))
	for _, code := range codes {
		voices = append(voices, Voice{
			ID:          code,
			Name:        googleLanguages[code],
			Provider:    Google,
			Language:    code,
			Gender:      "neutral",
			Category:    "standard",
			Description: "Google TTS - " + googleLanguages[code],
		})
	}
	return filter.Apply(voices, true), nil
}

// Synthesize fetches every chunk in order and pipes the concatenated MP3
// stream into the sink.
func (a *GoogleAdapter) Synthesize(ctx context.Context, req SynthesisRequest) (*AudioHandle, error) {
	if req.Sink == nil || req.Key == "" {
		return nil, apperr.Validation("synthesis requires an artifact location")
	}
	chunks := splitText(req.Text, googleChunkSize)
	if len(chunks) == 0 {
		return nil, &apperr.ProviderError{Provider: a.id, Message: "empty text"}
	}
	lang := req.VoiceID
	if lang == "" {
		lang = req.Params.Language
	}
	if lang == "" {
		lang = "en"
	}

	pr, pw := io.Pipe()
	defer pr.Close()

	var fetchErr error
	go func() {
		for _, chunk := range chunks {
			if err := a.fetchChunk(ctx, chunk, lang, pw); err != nil {
				fetchErr = err
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()

	body := &countingReader{r: pr}
	location, err := req.Sink.Upload(ctx, req.Key, body, "audio/mpeg")
	// drain so the writer goroutine can finish before fetchErr is read
	_, _ = io.Copy(io.Discard, pr)
	if fetchErr != nil {
		return nil, fetchErr
	}
	if err != nil {
		return nil, err
	}
	if body.n == 0 {
		return nil, &apperr.ProviderError{Provider: a.id, Message: "empty audio response"}
	}
	return &AudioHandle{
		Provider:    a.id,
		Key:         req.Key,
		URL:         location,
		ContentType: "audio/mpeg",
		Size:        body.n,
	}, nil
}

// fetchChunk writes one chunk's audio to w. The chunk is read whole inside
// each attempt, so the attempt timeout covers the body and a stream that
// breaks halfway is retried.
func (a *GoogleAdapter) fetchChunk(ctx context.Context, text, lang string, w io.Writer) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("q", text)
	q.Set("tl", lang)
	q.Set("client", "tw-ob")
	endpoint := a.baseURL + "/translate_tts?" + q.Encode()

	var audio []byte
	err := Retry(ctx, a.id, a.retry, func(attemptCtx context.Context) error {
		if err := a.wait(attemptCtx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := a.checkStatus(resp); err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, googleMaxChunkBytes))
		if err != nil {
			return &apperr.ProviderError{Provider: a.id, Message: "audio stream interrupted", Transient: true, Cause: err}
		}
		audio = data
		return nil
	})
	if err != nil {
		return err
	}

	_, err = w.Write(audio)
	return err
}

// splitText breaks text into chunks of at most size characters at word
// boundaries. Single words longer than size are cut on rune boundaries.
func splitText(text string, size int) []string {
	var chunks []string
	var b []rune
	flush := func() {
		if len(b) > 0 {
			chunks = append(chunks, string(b))
			b = b[:0]
		}
	}
	for _, field := range strings.Fields(text) {
		w := []rune(field)
		for len(w) > size {
			flush()
			chunks = append(chunks, string(w[:size]))
			w = w[size:]
		}
		if len(b) > 0 && len(b)+1+len(w) > size {
			flush()
		}
		if len(b) > 0 {
			b = append(b, ' ')
		}
		b = append(b, w...)
	}
	flush()
	return chunks
}
