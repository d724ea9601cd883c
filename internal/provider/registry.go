package provider

import (
	"log"

	"github.com/podforge/api/internal/config"
)

// NewRegistryFromConfig registers every configured backend. Adapters without
// credentials are still registered so their fallback catalogs stay reachable.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	p := &cfg.Providers
	policy := PolicyFromConfig(p)

	adapters := []Adapter{
		NewOpenAIAdapter(&p.OpenAI, policy),
		NewElevenLabsAdapter(&p.ElevenLabs, policy),
		NewSpeechifyAdapter(&p.Speechify, policy),
		NewGoogleAdapter(&p.Google, policy),
	}
	if p.Mock.Enabled || cfg.Server.IsDevelopment() {
		adapters = append(adapters, NewMockAdapter())
	}

	for _, a := range adapters {
		log.Printf("[Provider] %s registered (available=%t)", a.ID(), a.IsAvailable())
	}
	return NewRegistry(adapters...)
}
