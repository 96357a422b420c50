// Package router resolves a model name to an ordered chain of providers.
package router

import (
	"errors"
	"fmt"

	"github.com/pario-ai/warden/pkg/config"
)

// ErrNoProviders is returned when no provider is configured.
var ErrNoProviders = errors.New("router: no providers configured")

// Route is one provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router maps model aliases to fallback chains.
type Router struct {
	providers []config.ProviderConfig
	byName    map[string]config.ProviderConfig
	routes    []config.RouteConfig
}

// New creates a Router over providers and alias routes.
func New(providers []config.ProviderConfig, routes []config.RouteConfig) *Router {
	byName := make(map[string]config.ProviderConfig, len(providers))
	for _, p := range providers {
		byName[p.Name] = p
	}
	return &Router{providers: providers, byName: byName, routes: routes}
}

// FromConfig creates a Router from the providers and router sections of cfg.
func FromConfig(cfg *config.Config) *Router {
	return New(cfg.Providers, cfg.Router.Routes)
}

// Resolve returns the routes to try for model, in order.
// An alias yields its configured targets; targets naming an unknown provider
// are skipped. Any other model goes to the first provider unchanged.
func (r *Router) Resolve(model string) ([]Route, error) {
	if len(r.providers) == 0 {
		return nil, ErrNoProviders
	}

	for _, rc := range r.routes {
		if rc.Model != model {
			continue
		}
		var out []Route
		for _, target := range rc.Targets {
			p, ok := r.byName[target.Provider]
			if !ok {
				continue
			}
			m := target.Model
			if m == "" {
				m = model
			}
			out = append(out, Route{Provider: p, Model: m})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("route %q: all providers unknown", model)
		}
		return out, nil
	}

	return []Route{{Provider: r.providers[0], Model: model}}, nil
}
