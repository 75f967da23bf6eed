// Package research provides the pluggable retrieval backends that gap
// refinement targets: live web search, document search, knowledge graph,
// and vector similarity. Each backend answers a single query string and
// returns prose; the dispatcher handles fan-out and fault isolation.
package research

import (
	"context"
	"fmt"

	"hypercog/internal/config"
)

// Backend names used by gap classification and dispatch.
const (
	BackendWeb      = "web"
	BackendDocument = "document"
	BackendGraph    = "graph"
	BackendVector   = "vector"
)

// Backend answers a single research query.
type Backend interface {
	// Name identifies the backend ("web", "document", "graph", "vector").
	Name() string
	// Search runs one query and returns the backend's findings as text.
	Search(ctx context.Context, query string) (string, error)
}

// Registry holds the configured backends keyed by name.
type Registry struct {
	backends map[string]Backend
	fallback string
}

// NewRegistry builds a registry from explicit backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend), fallback: BackendVector}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// NewRegistryFromConfig wires up every backend the config enables.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend), fallback: BackendVector}

	if cfg.Research.Web.Enabled && cfg.Research.Web.APIKey != "" {
		r.backends[BackendWeb] = NewWebBackend(cfg.Research.Web)
	}
	if cfg.Research.Document.Enabled && cfg.Research.Document.APIKey != "" {
		doc, err := NewDocumentBackend(ctx, cfg.Research.Document)
		if err != nil {
			return nil, fmt.Errorf("failed to init document backend: %w", err)
		}
		r.backends[BackendDocument] = doc
	}
	if cfg.Research.Graph.Enabled && cfg.Research.Graph.BaseURL != "" {
		r.backends[BackendGraph] = NewCogneeBackend(BackendGraph, cfg.Research.Graph)
	}
	if cfg.Research.Vector.Enabled && cfg.Research.Vector.BaseURL != "" {
		r.backends[BackendVector] = NewCogneeBackend(BackendVector, cfg.Research.Vector)
	}

	if len(r.backends) == 0 {
		return nil, fmt.Errorf("no research backends configured")
	}
	return r, nil
}

// Get returns the backend for name, falling back to the registry default
// when the preferred backend is not configured.
func (r *Registry) Get(name string) (Backend, bool) {
	if b, ok := r.backends[name]; ok {
		return b, true
	}
	if b, ok := r.backends[r.fallback]; ok {
		return b, true
	}
	// Last resort: any configured backend.
	for _, b := range r.backends {
		return b, true
	}
	return nil, false
}

// Names lists the configured backend names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// Size reports how many backends are configured.
func (r *Registry) Size() int { return len(r.backends) }
