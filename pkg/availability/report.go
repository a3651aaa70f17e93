package availability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chazu/qudag/pkg/binding"
	"github.com/chazu/qudag/pkg/platform"
)

// ModuleStatus summarizes the probe of one module.
type ModuleStatus struct {
	Identity  binding.Identity `json:"identity"`
	Available bool             `json:"available"`

	// LoadedTier is the tier the module was served from; empty when unavailable
	LoadedTier platform.Tier `json:"loadedTier,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Source     string        `json:"source,omitempty"`
	Digest     string        `json:"digest,omitempty"`

	Reason binding.Reason `json:"reason,omitempty"`
	Error  string         `json:"error,omitempty"`

	Duration time.Duration `json:"durationNanos"`
}

func statusFor(o binding.Outcome, d time.Duration) ModuleStatus {
	s := ModuleStatus{Identity: o.Identity, Duration: d}
	if o.IsLoaded() {
		s.Available = true
		s.LoadedTier = o.Handle.Tier()
		s.Degraded = o.Handle.Degraded()
		s.Source = o.Handle.Source()
		s.Digest = o.Handle.Digest()
		return s
	}
	s.Reason = o.Reason
	if o.Err != nil {
		s.Error = o.Err.Error()
	}
	return s
}

// Report is an immutable snapshot of module availability. Every registered
// module appears exactly once, in registry order.
type Report struct {
	tier     platform.Tier
	statuses []ModuleStatus
}

func newReport(tier platform.Tier, statuses []ModuleStatus) *Report {
	return &Report{tier: tier, statuses: statuses}
}

// Tier returns the tier the report was computed for.
func (r *Report) Tier() platform.Tier {
	return r.tier
}

// Profile returns the profile of the report's tier.
func (r *Report) Profile() platform.TierProfile {
	return platform.ProfileFor(r.tier)
}

// Available returns the loadable modules in registry order.
func (r *Report) Available() []binding.Identity {
	return r.filter(true)
}

// Unavailable returns the modules that could not be loaded, in registry order.
func (r *Report) Unavailable() []binding.Identity {
	return r.filter(false)
}

func (r *Report) filter(available bool) []binding.Identity {
	ids := []binding.Identity{}
	for _, s := range r.statuses {
		if s.Available == available {
			ids = append(ids, s.Identity)
		}
	}
	return ids
}

// Modules returns a copy of every module status in registry order.
func (r *Report) Modules() []ModuleStatus {
	out := make([]ModuleStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// Status returns the status of id.
func (r *Report) Status(id binding.Identity) (ModuleStatus, bool) {
	for _, s := range r.statuses {
		if s.Identity == id {
			return s, true
		}
	}
	return ModuleStatus{}, false
}

// IsAvailable reports whether id was loadable.
func (r *Report) IsAvailable(id binding.Identity) bool {
	s, ok := r.Status(id)
	return ok && s.Available
}

type reportJSON struct {
	Tier        platform.Tier        `json:"tier"`
	Profile     platform.TierProfile `json:"profile"`
	Available   []binding.Identity   `json:"available"`
	Unavailable []binding.Identity   `json:"unavailable"`
	Modules     []ModuleStatus       `json:"modules"`
}

// MarshalJSON encodes the report.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportJSON{
		Tier:        r.tier,
		Profile:     r.Profile(),
		Available:   r.Available(),
		Unavailable: r.Unavailable(),
		Modules:     r.Modules(),
	})
}

func (r *Report) String() string {
	return fmt.Sprintf("tier=%s available=%v unavailable=%v", r.tier, r.Available(), r.Unavailable())
}
