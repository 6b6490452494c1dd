// Package registry holds the process-wide state a running server shares
// across every request: the set of loaded captures, the allocation-group
// cache, and the generated-file cache (spec.md §3 "State", §5 "Shared-
// resource policy").
package registry

import (
	"github.com/pkg/errors"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filecache"
	"github.com/0xgxthxb/bytehound/pkg/group"
)

// ErrNotFound is returned by Get/Resolve when the requested capture id
// does not exist.
var ErrNotFound = errors.New("data not found")

// Registry is built once at server start (one capture per loaded input
// file) and is read-only thereafter: the slice of captures and the id
// index never change after New returns, so Get/Resolve need no lock
// (spec.md §5 "The capture registry is read-only after startup and
// shared freely"). Its two caches are each independently synchronized.
type Registry struct {
	captures []*capture.Data
	byID     map[capture.CaptureId]*capture.Data

	Groups *group.Engine
	Files  *filecache.Cache
}

// New returns a Registry over the given already-frozen captures, in load
// order (the order `last` and index-based listing use).
func New(captures []*capture.Data) *Registry {
	byID := make(map[capture.CaptureId]*capture.Data, len(captures))
	for _, d := range captures {
		byID[d.ID()] = d
	}
	return &Registry{
		captures: captures,
		byID:     byID,
		Groups:   group.NewEngine(),
		Files:    filecache.New(),
	}
}

// List returns every loaded capture's metadata, in load order.
func (r *Registry) List() []*capture.Data {
	out := make([]*capture.Data, len(r.captures))
	copy(out, r.captures)
	return out
}

// Get resolves a capture id, or ErrNotFound.
func (r *Registry) Get(id capture.CaptureId) (*capture.Data, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Last returns the most recently loaded capture, or ErrNotFound if none
// were loaded (spec.md §4.8's `{id}` path segment accepts the literal
// sentinel "last").
func (r *Registry) Last() (*capture.Data, error) {
	if len(r.captures) == 0 {
		return nil, ErrNotFound
	}
	return r.captures[len(r.captures)-1], nil
}

// Resolve looks up idOrLast, treating the literal string "last" as a
// request for the most recently loaded capture and anything else as a
// decimal CaptureId.
func (r *Registry) Resolve(idOrLast string) (*capture.Data, error) {
	if idOrLast == "last" {
		return r.Last()
	}
	id, err := capture.ParseCaptureId(idOrLast)
	if err != nil {
		return nil, errors.Wrap(err, "invalid capture id")
	}
	return r.Get(id)
}

// Append registers a newly loaded capture. Only used during startup,
// before the server begins serving requests — once serving starts the
// registry is treated as read-only per spec.md §5.
func (r *Registry) Append(d *capture.Data) {
	r.captures = append(r.captures, d)
	r.byID[d.ID()] = d
}
