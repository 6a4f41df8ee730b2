package codec

import "strings"

// Catalog resolves the local codec list for a call against the process-wide
// preference order.
type Catalog struct {
	registry *Registry
	prefs    []string
}

func NewCatalog(registry *Registry, prefs []string) *Catalog {
	return &Catalog{registry: registry, prefs: prefs}
}

// Resolve returns registered codecs restricted to and ordered by the
// preference list, or every registered codec when no preference is set.
// Unknown preference names are skipped.
func (c *Catalog) Resolve() ([]Codec, error) {
	var out []Codec
	if len(c.prefs) == 0 {
		out = c.registry.All()
	} else {
		seen := make(map[string]bool, len(c.prefs))
		for _, name := range c.prefs {
			key := strings.ToUpper(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			if codec, ok := c.registry.Lookup(name); ok {
				out = append(out, codec)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCodecsAvailable
	}
	return out, nil
}

func (c *Catalog) Registry() *Registry {
	return c.registry
}
