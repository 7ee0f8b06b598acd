// Package resolver declares the narrow interface the host daemon's policy
// resolver is consumed through. Evaluating policy rules against the shared
// fact store is explicitly out of scope (spec §1 non-goals); this package
// only types the boundary and provides a no-op default so the rest of the
// tree is exercisable without the real resolver.
package resolver

import "context"

// Resolver evaluates a named policy rule against the current fact-store
// state. Locals are rule-specific scalars (e.g. "call_id", "call_state"
// for the telephony_request rule of spec §4.6).
type Resolver interface {
	Resolve(ctx context.Context, rule string, locals map[string]string) error
}

// Noop never produces a decisions fact, exercising spec §4.6's degraded
// path ("resolver returning no decisions fact ... is logged as an error
// and the originating event is allowed to proceed with its default
// behavior").
type Noop struct{}

func (Noop) Resolve(context.Context, string, map[string]string) error { return nil }
