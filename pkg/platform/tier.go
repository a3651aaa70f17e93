package platform

import "fmt"

// Tier is the runtime execution context a module can be resolved against.
type Tier string

const (
	// Accelerated means compiled native extensions can be loaded.
	Accelerated Tier = "accelerated"
	// Portable means only sandboxed WebAssembly modules can run.
	Portable Tier = "portable"
)

// Tiers lists every known tier in preference order.
var Tiers = []Tier{Accelerated, Portable}

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case Accelerated, Portable:
		return true
	default:
		return false
	}
}

// Other returns the alternate tier.
func (t Tier) Other() Tier {
	if t == Accelerated {
		return Portable
	}
	return Accelerated
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// TierProfile describes a tier for display purposes. It is always derived from
// the tier and never mutated independently.
type TierProfile struct {
	Tier                Tier     `json:"tier"`
	RuntimeName         string   `json:"runtime"`
	Performance         string   `json:"performance"`
	RelativeSpeed       float64  `json:"relativeSpeed"`
	ConcurrentExecution bool     `json:"concurrentExecution"`
	Capabilities        []string `json:"capabilities"`
}

var profiles = map[Tier]TierProfile{
	Accelerated: {
		Tier:                Accelerated,
		RuntimeName:         "Native (Go plugin)",
		Performance:         "high",
		RelativeSpeed:       1.0,
		ConcurrentExecution: true,
		Capabilities: []string{
			"native-code",
			"multi-threading",
			"direct-memory-access",
		},
	},
	Portable: {
		Tier:                Portable,
		RuntimeName:         "WebAssembly (wazero)",
		Performance:         "medium",
		RelativeSpeed:       0.4,
		ConcurrentExecution: false,
		Capabilities: []string{
			"portable",
			"sandboxed",
			"browser-compatible",
		},
	},
}

// ProfileFor returns the profile of a tier. Unknown tiers get the portable
// profile, which is valid everywhere.
func ProfileFor(t Tier) TierProfile {
	p, ok := profiles[t]
	if !ok {
		p = profiles[Portable]
	}
	p.Capabilities = append([]string(nil), p.Capabilities...)
	return p
}
