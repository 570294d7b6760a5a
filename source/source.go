// Package source resolves a media reference, either an uploaded file path
// or a remote URL, into a local file the pipeline can read.
package source

import (
	"context"

	"github.com/pkg/errors"

	"github.com/lectoria/conspect/progress"
)

// ErrUnsupported marks a reference no resolver can handle. It is an input
// rejection: reported immediately, no retry, before any work starts.
var ErrUnsupported = errors.New("source: unsupported reference")

// Resolver turns one class of references into a local media file, reporting
// download progress through the sink.
type Resolver interface {
	Supports(ref string) bool
	Resolve(ctx context.Context, ref string, sink progress.Sink) (string, error)
}

// Registry tries resolvers in registration order.
type Registry struct {
	resolvers []Resolver
}

func NewRegistry(resolvers ...Resolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// Resolve finds the first resolver claiming the reference and runs it.
func (r *Registry) Resolve(ctx context.Context, ref string, sink progress.Sink) (string, error) {
	for _, res := range r.resolvers {
		if res.Supports(ref) {
			path, err := res.Resolve(ctx, ref, sink)
			if err != nil {
				return "", errors.Wrapf(err, "source: resolving %q", ref)
			}
			return path, nil
		}
	}
	return "", errors.Wrapf(ErrUnsupported, "%q", ref)
}
