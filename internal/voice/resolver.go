// Package voice resolves the voice catalog of a provider with hierarchical
// fallback: live list, filtered live list, static fallback, structured absence.
package voice

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/provider"
)

// Source tells where a resolved list came from
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Result is a resolved, non-empty voice list
type Result struct {
	Provider string               `json:"provider"`
	Source   Source               `json:"source"`
	Filters  provider.VoiceFilter `json:"filters"`
	Voices   []provider.Voice     `json:"voices"`
	Total    int                  `json:"total"`
}

// catalogTimeout bounds one shared live catalog fetch.
const catalogTimeout = 30 * time.Second

// Resolver is safe for concurrent use. Concurrent requests for the same
// provider and filter share one upstream call.
type Resolver struct {
	registry *provider.Registry
	group    singleflight.Group
}

func NewResolver(registry *provider.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve returns a live or fallback list. The only error it returns is
// *apperr.NoVoicesAvailable.
func (r *Resolver) Resolve(ctx context.Context, providerID string, filter provider.VoiceFilter) (*Result, error) {
	id := strings.ToLower(providerID)
	adapter, ok := r.registry.Get(id)
	if !ok {
		return nil, r.absent(id, filter)
	}

	fallback := r.fallback(adapter, filter)
	if !adapter.IsAvailable() {
		return r.result(id, SourceFallback, filter, fallback)
	}

	voices, err := r.live(ctx, adapter, filter)
	if err != nil {
		log.Printf("[Voices] %s live catalog failed, using fallback: %v", id, err)
		return r.result(id, SourceFallback, filter, fallback)
	}
	if len(voices) == 0 {
		return r.result(id, SourceFallback, filter, fallback)
	}
	return r.result(id, SourceLive, filter, voices)
}

// Validate checks that voiceID is offered by the provider, live or fallback.
func (r *Resolver) Validate(ctx context.Context, providerID, voiceID string) error {
	res, err := r.Resolve(ctx, providerID, provider.VoiceFilter{})
	if err != nil {
		return err
	}
	for _, v := range res.Voices {
		if v.ID == voiceID {
			return nil
		}
	}
	return apperr.ValidationField("voice_id", fmt.Sprintf("voice %q is not offered by %s", voiceID, providerID))
}

// live fetches the catalog once per key for all concurrent callers. The
// shared fetch is detached from the first caller's context so one client
// going away does not fail the others.
func (r *Resolver) live(ctx context.Context, adapter provider.Adapter, filter provider.VoiceFilter) ([]provider.Voice, error) {
	key := adapter.ID() + "|" + filter.Language + "|" + filter.Gender + "|" + filter.Category
	ch := r.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("listing voices panicked: %v", p)
			}
		}()
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogTimeout)
		defer cancel()
		return adapter.ListVoices(fetchCtx, filter)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		list, _ := res.Val.([]provider.Voice)
		// adapters filter when they can; apply again for those that cannot
		return filter.Apply(list, true), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fallback filters the static catalog by gender and category. Language is
// skipped since fallback voices are a fixed language. A filter that empties
// the catalog is dropped.
func (r *Resolver) fallback(adapter provider.Adapter, filter provider.VoiceFilter) []provider.Voice {
	all := adapter.FallbackVoices()
	filtered := filter.Apply(all, false)
	if len(filtered) == 0 {
		return all
	}
	return filtered
}

func (r *Resolver) result(id string, source Source, filter provider.VoiceFilter, voices []provider.Voice) (*Result, error) {
	if len(voices) == 0 {
		return nil, r.absent(id, filter)
	}
	return &Result{Provider: id, Source: source, Filters: filter, Voices: voices, Total: len(voices)}, nil
}

func (r *Resolver) absent(id string, filter provider.VoiceFilter) *apperr.NoVoicesAvailable {
	alternatives := r.registry.Alternatives(id)
	if alternatives == nil {
		alternatives = []string{}
	}
	return &apperr.NoVoicesAvailable{Provider: id, Filters: filter.Map(), Alternatives: alternatives}
}
