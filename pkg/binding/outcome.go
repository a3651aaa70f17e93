package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/qudag/pkg/platform"
)

// Reason classifies why a module is unavailable.
type Reason string

const (
	// ResolutionFailed means the strategy could not locate or initialize the
	// module and no fallback was defined
	ResolutionFailed Reason = "ResolutionFailed"

	// TierUnsupported means the registry declares no strategy for the
	// requested tier and no fallback exists. Nothing was attempted.
	TierUnsupported Reason = "TierUnsupported"

	// FallbackExhausted means the primary tier failed and the fallback tier
	// failed too
	FallbackExhausted Reason = "FallbackExhausted"
)

var (
	// ErrArtifactNotFound is returned when no artifact exists in any search directory
	ErrArtifactNotFound = errors.New("module artifact not found")

	// ErrArtifactIncompatible is returned when an artifact exists but cannot be
	// loaded on this platform (wrong format, architecture, or ABI)
	ErrArtifactIncompatible = errors.New("module artifact incompatible")

	// ErrSymbolNotFound is returned when a loaded artifact lacks its entry symbol
	ErrSymbolNotFound = errors.New("module entry symbol not found")

	// ErrEntryType is returned when the entry symbol has an unexpected type
	ErrEntryType = errors.New("module entry has unexpected type")

	// ErrUnknownModule is returned when an identity is not in the registry
	ErrUnknownModule = errors.New("unknown module")

	// ErrResolverPanic is returned when a strategy panics during resolution
	ErrResolverPanic = errors.New("resolution strategy panicked")
)

// Handle is a successfully loaded module. Each load returns a new handle that
// is owned by the caller, who must Close it when done.
type Handle struct {
	identity Identity
	tier     platform.Tier
	degraded bool
	source   string
	digest   string
	value    any

	closeOnce sync.Once
	closer    func(context.Context) error
	closeErr  error
}

// Identity returns the module identity.
func (h *Handle) Identity() Identity { return h.identity }

// Tier returns the tier the module was actually loaded from.
func (h *Handle) Tier() platform.Tier { return h.tier }

// Degraded reports whether the module was served by the fallback tier.
func (h *Handle) Degraded() bool { return h.degraded }

// Source returns where the module was loaded from.
func (h *Handle) Source() string { return h.source }

// Digest returns a content digest of the loaded artifact.
func (h *Handle) Digest() string { return h.digest }

// Value returns the module's entry surface.
func (h *Handle) Value() any { return h.value }

// Close releases resources held by the module. It is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		if h.closer != nil {
			h.closeErr = h.closer(ctx)
		}
	})
	return h.closeErr
}

// As returns the handle's entry surface as T.
func As[T any](h *Handle) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	v, ok := h.value.(T)
	return v, ok
}

// Outcome is the result of a load: either Loaded with a Handle, or Unavailable
// with a Reason. Never both.
type Outcome struct {
	Identity Identity
	// Tier is the tier the load was requested for
	Tier   platform.Tier
	Handle *Handle
	Reason Reason
	Err    error
}

// Loaded wraps a handle into an outcome for a load requested on tier.
func Loaded(tier platform.Tier, h *Handle) Outcome {
	return Outcome{Identity: h.identity, Tier: tier, Handle: h}
}

// Unavailable builds a failed outcome.
func Unavailable(id Identity, tier platform.Tier, reason Reason, err error) Outcome {
	return Outcome{Identity: id, Tier: tier, Reason: reason, Err: err}
}

// IsLoaded reports whether the outcome carries a handle.
func (o Outcome) IsLoaded() bool {
	return o.Handle != nil
}

// AsError returns an *UnavailableError for unavailable outcomes and nil otherwise.
func (o Outcome) AsError() error {
	if o.IsLoaded() {
		return nil
	}
	return &UnavailableError{
		Identity: o.Identity,
		Tier:     o.Tier,
		Reason:   o.Reason,
		Err:      o.Err,
	}
}

// UnavailableError reports that a specific module cannot be used.
type UnavailableError struct {
	Identity Identity
	Tier     platform.Tier
	Reason   Reason
	Err      error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s module unavailable on %s tier (%s)", e.Identity, e.Tier, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
