package artifact

import (
	"context"
	"strings"

	"github.com/hupe1980/agentctx/core"
)

// compile-time assertion
var _ core.ArtifactResolver = (*Resolver)(nil)

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// IncludeAll returns every artifact regardless of the user message.
	IncludeAll bool
	// Limit caps the number of handles. Zero means no cap.
	Limit int
}

// Resolver returns handles for artifacts the latest user message mentions by
// name (case-insensitive, with or without extension).
type Resolver struct {
	catalog Catalog
	opts    ResolverOptions
}

// NewResolver creates a Resolver over catalog.
func NewResolver(catalog Catalog, optFns ...func(o *ResolverOptions)) *Resolver {
	opts := ResolverOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resolver{catalog: catalog, opts: opts}
}

// Resolve implements core.ArtifactResolver.
func (r *Resolver) Resolve(_ context.Context, in core.RetrievalInput) ([]core.ArtifactHandle, error) {
	artifacts, err := r.catalog.List(in.SessionID)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(in.LatestUserMessage)
	out := make([]core.ArtifactHandle, 0, len(artifacts))
	for _, a := range artifacts {
		if r.opts.Limit > 0 && len(out) == r.opts.Limit {
			break
		}
		if r.opts.IncludeAll || mentions(query, a.Name) {
			out = append(out, a.Handle())
		}
	}
	return out, nil
}

func mentions(query, name string) bool {
	if query == "" || name == "" {
		return false
	}
	name = strings.ToLower(name)
	if strings.Contains(query, name) {
		return true
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return strings.Contains(query, name[:i])
	}
	return false
}
