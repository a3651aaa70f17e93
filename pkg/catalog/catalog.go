package catalog

import (
	"fmt"
	"io/fs"
	"path"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	cuembed "github.com/chazu/qudag/cue"
	"github.com/chazu/qudag/pkg/platform"
)

// Variant locates the artifact of one tier-specific implementation.
type Variant struct {
	Artifact string `json:"artifact"`
	Symbol   string `json:"symbol,omitempty"`
}

// Module is one catalog entry.
type Module struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Variants    map[string]Variant `json:"variants"`
	Fallback    map[string]string  `json:"fallback"`
}

// Variant returns the variant declared for tier.
func (m Module) Variant(tier platform.Tier) (Variant, bool) {
	v, ok := m.Variants[string(tier)]
	return v, ok
}

// FallbackFor returns the fallback tier declared for tier.
func (m Module) FallbackFor(tier platform.Tier) (platform.Tier, bool) {
	to, ok := m.Fallback[string(tier)]
	return platform.Tier(to), ok
}

// Catalog is the ordered list of known modules.
type Catalog struct {
	Modules []Module `json:"modules"`
}

// Module returns the module named name.
func (c *Catalog) Module(name string) (Module, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// Names returns module names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		names = append(names, m.Name)
	}
	return names
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	src, err := fs.ReadFile(cuembed.CatalogFS, path.Join(cuembed.CatalogDir, cuembed.ModulesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded catalog: %w", err)
	}
	return Parse(src)
}

// Parse validates CUE source against the catalog schema and decodes it.
func Parse(src []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schemaSrc, err := fs.ReadFile(cuembed.CatalogFS, path.Join(cuembed.CatalogDir, cuembed.SchemaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog schema: %w", err)
	}

	schema := ctx.CompileBytes(schemaSrc, cue.Filename(cuembed.SchemaFile))
	if schema.Err() != nil {
		return nil, fmt.Errorf("failed to compile catalog schema: %w", schema.Err())
	}

	data := ctx.CompileBytes(src, cue.Filename(cuembed.ModulesFile))
	if data.Err() != nil {
		return nil, fmt.Errorf("failed to compile catalog: %w", data.Err())
	}

	value := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(data)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("catalog does not match schema: %s", errors.Details(err, nil))
	}

	var c Catalog
	if err := value.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if seen[m.Name] {
			return nil, fmt.Errorf("catalog declares module %q more than once", m.Name)
		}
		seen[m.Name] = true
	}

	return &c, nil
}
