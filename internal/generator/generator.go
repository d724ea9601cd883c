// Package generator is the boundary to the text model that writes research
// analyses, scripts and recommendations.
package generator

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/client"
	"github.com/podforge/api/internal/provider"
)

// Task names the kind of text requested. Mock generators use it to shape output.
type Task string

const (
	TaskSources        Task = "sources"
	TaskAnalysis       Task = "analysis"
	TaskScript         Task = "script"
	TaskRecommendation Task = "recommendation"
)

// Constraints tunes one generation call. Zero Temperature and MaxTokens use
// the model defaults.
type Constraints struct {
	Task        Task
	System      string
	Temperature float64
	MaxTokens   int
	// Speakers lists the names a script must use.
	Speakers []string
}

// Generator produces text for a prompt. Failures are *apperr.AppError with
// code generator_unavailable or generator.
type Generator interface {
	Generate(ctx context.Context, prompt string, c Constraints) (string, error)
}

// chatCompleter is the part of the Groq client the generator needs.
type chatCompleter interface {
	Complete(ctx context.Context, req client.Completion) (*client.CompletionResult, error)
	IsConfigured() bool
}

// completion maps the constraints of one call onto a chat request.
func (c Constraints) completion(prompt string) client.Completion {
	return client.Completion{
		System:      c.System,
		Prompt:      prompt,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
}

// GroqGenerator generates text through the Groq chat completion API.
type GroqGenerator struct {
	client chatCompleter
	retry  provider.RetryPolicy
}

func NewGroqGenerator(c chatCompleter, retry provider.RetryPolicy) *GroqGenerator {
	return &GroqGenerator{client: c, retry: retry}
}

func (g *GroqGenerator) Generate(ctx context.Context, prompt string, c Constraints) (string, error) {
	if g.client == nil || !g.client.IsConfigured() {
		return "", apperr.GeneratorUnavailable("text generator is not configured")
	}

	var result *client.CompletionResult
	err := provider.Retry(ctx, "groq", g.retry, func(ctx context.Context) error {
		out, err := g.client.Complete(ctx, c.completion(prompt))
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Cancelled("generation cancelled")
		}
		var provErr *apperr.ProviderError
		if errors.As(err, &provErr) && provErr.Transient {
			return "", apperr.GeneratorUnavailable(provErr.Error())
		}
		return "", apperr.Generator(err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return "", apperr.Generator(errors.New("empty completion"))
	}
	if result.Truncated() {
		log.Printf("[Generator] %s completion hit the token limit after %d tokens", c.Task, result.CompletionTokens)
	}
	return result.Text, nil
}

// New returns the Groq generator when configured and the mock otherwise.
// allowMock is false in production so a missing key surfaces as unavailable.
func New(groq *client.GroqClient, retry provider.RetryPolicy, allowMock bool) Generator {
	if groq != nil && groq.IsConfigured() {
		return NewGroqGenerator(groq, retry)
	}
	if allowMock {
		return NewMockGenerator()
	}
	return NewGroqGenerator(groq, retry)
}
