package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/linkdrop/internal/storage/local"
	s3backend "github.com/fruitsalade/linkdrop/internal/storage/s3"
)

// NewBackendFromConfig creates a Backend from a backend type string and JSON config.
func NewBackendFromConfig(ctx context.Context, backendType string, config json.RawMessage) (Backend, error) {
	switch backendType {
	case "s3":
		return s3backend.NewBackendFromJSON(ctx, config)
	case "local":
		return local.NewFromJSON(config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", backendType)
	}
}

// NewRouterFromConfig builds one backend per bucket context and routes
// between them. configs is keyed by bucket context name.
func NewRouterFromConfig(ctx context.Context, backendType string, configs map[string]json.RawMessage, opts ...RouterOption) (*Router, error) {
	backends := make(map[BucketContext]Backend, len(configs))
	for name, raw := range configs {
		bc := BucketContext(name)
		if !bc.Valid() {
			closeAll(backends)
			return nil, fmt.Errorf("unknown bucket context %q", name)
		}
		b, err := NewBackendFromConfig(ctx, backendType, raw)
		if err != nil {
			closeAll(backends)
			return nil, fmt.Errorf("%s backend: %w", name, err)
		}
		backends[bc] = b
	}
	r, err := NewRouter(backends, opts...)
	if err != nil {
		closeAll(backends)
		return nil, err
	}
	return r, nil
}

func closeAll(backends map[BucketContext]Backend) {
	for _, b := range backends {
		b.Close()
	}
}
