package binding

import (
	"context"
	"fmt"
)

// Prober loads a single module on the active tier.
type Prober interface {
	ProbeOne(ctx context.Context, id Identity) Outcome
}

// Open probes id and returns its entry surface as T together with the
// handle that owns it. An unavailable module is returned as
// *UnavailableError.
func Open[T any](ctx context.Context, p Prober, id Identity) (T, *Handle, error) {
	var zero T

	outcome := p.ProbeOne(ctx, id)
	if !outcome.IsLoaded() {
		return zero, nil, outcome.AsError()
	}

	value, ok := As[T](outcome.Handle)
	if !ok {
		_ = outcome.Handle.Close(ctx)
		return zero, nil, fmt.Errorf("%w: %s entry is %T", ErrEntryType, id, outcome.Handle.Value())
	}
	return value, outcome.Handle, nil
}
