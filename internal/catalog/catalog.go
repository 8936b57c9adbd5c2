// Package catalog is the engine's static view of which models each provider
// exposes — the live-catalog gate routing.Load sanitizes entries against,
// and the source /v1/models enumerates from.
package catalog

import "sort"

// models lists each provider's currently supported models, grounded on the
// provider packages' own hardcoded lists (antigravity's getLocalQuotas
// supportedModels, Copilot's GetModels-fetched catalog mirrored here as a
// static fallback, and Codex's CODEX_FALLBACK_MODEL family).
var models = map[string][]string{
	"antigravity": {
		"claude-sonnet-4-5-thinking",
		"claude-opus-4-5-thinking",
		"claude-sonnet-4-5",
		"gemini-3-flash",
		"gemini-3-pro-low",
		"gemini-3-pro-high",
	},
	"codex": {
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-codex",
	},
	"copilot": {
		"gpt-4o",
		"gpt-4.1",
		"claude-3.5-sonnet",
		"claude-3.7-sonnet",
		"o3-mini",
	},
}

// Static is the default catalog: a fixed per-provider model list.
// It satisfies routing.Catalog.
type Static struct{}

// IsVisible reports whether provider currently exposes modelID.
func (Static) IsVisible(provider, modelID string) bool {
	for _, m := range models[provider] {
		if m == modelID {
			return true
		}
	}
	return false
}

// ModelsFor returns the sorted model list for provider, or nil if unknown.
func ModelsFor(provider string) []string {
	list := append([]string(nil), models[provider]...)
	sort.Strings(list)
	return list
}

// Providers returns the known provider names in a fixed order.
func Providers() []string {
	return []string{"antigravity", "codex", "copilot"}
}

// All returns every (provider, modelID) pair the catalog currently exposes.
func All() map[string][]string {
	out := make(map[string][]string, len(models))
	for p := range models {
		out[p] = ModelsFor(p)
	}
	return out
}
