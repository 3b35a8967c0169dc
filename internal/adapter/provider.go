package adapter

import (
	"fmt"

	"github.com/jun/docrag/backend/internal/model"
)

// Registry maps provider types to their CloudStorageProvider.
type Registry struct {
	providers map[model.ProviderType]CloudStorageProvider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[model.ProviderType]CloudStorageProvider)}
}

// Register sets the implementation for a provider type.
func (r *Registry) Register(t model.ProviderType, p CloudStorageProvider) *Registry {
	r.providers[t] = p
	return r
}

// Get returns the implementation for t.
func (r *Registry) Get(t model.ProviderType) (CloudStorageProvider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, t)
	}
	return p, nil
}
