// Package pattern is the built-in catalog of comparison pairs: a vanilla
// implementation and a library-style implementation of the same idea.
//
// The catalog ships inside the binary (patterns.yaml) and is read-only at
// runtime. A run may name a pattern instead of sending both code strings.
package pattern

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("pattern not found")

//go:embed patterns.yaml
var builtin []byte

// Pattern is one comparison pair.
type Pattern struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	VanillaSize string `yaml:"vanillaSize" json:"vanillaSize"`
	LibrarySize string `yaml:"librarySize" json:"librarySize"`
	LibraryName string `yaml:"libraryName" json:"libraryName"`
	CodeA       string `yaml:"codeA" json:"codeA"`
	CodeB       string `yaml:"codeB" json:"codeB"`
}

// Summary is a Pattern without its code, for listings.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	VanillaSize string `json:"vanillaSize"`
	LibrarySize string `json:"librarySize"`
	LibraryName string `json:"libraryName"`
}

func (p Pattern) Summary() Summary {
	return Summary{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		VanillaSize: p.VanillaSize,
		LibrarySize: p.LibrarySize,
		LibraryName: p.LibraryName,
	}
}

// Catalog is an ordered, immutable set of patterns.
type Catalog struct {
	patterns []Pattern
	index    map[string]int
}

// Parse reads a YAML list of patterns. Ids must be unique and non-empty and
// both code strings must be present.
func Parse(data []byte) (*Catalog, error) {
	var patterns []Pattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("parsing pattern catalog: %w", err)
	}

	c := &Catalog{
		patterns: patterns,
		index:    make(map[string]int, len(patterns)),
	}
	for i, p := range patterns {
		switch {
		case strings.TrimSpace(p.ID) == "":
			return nil, fmt.Errorf("pattern #%d: missing id", i+1)
		case strings.TrimSpace(p.CodeA) == "" || strings.TrimSpace(p.CodeB) == "":
			return nil, fmt.Errorf("pattern %q: both codeA and codeB are required", p.ID)
		}
		if _, dup := c.index[p.ID]; dup {
			return nil, fmt.Errorf("pattern %q: duplicate id", p.ID)
		}
		c.index[p.ID] = i
	}
	return c, nil
}

var loadBuiltin = sync.OnceValues(func() (*Catalog, error) {
	return Parse(builtin)
})

// Builtin returns the catalog embedded in the binary.
func Builtin() (*Catalog, error) {
	return loadBuiltin()
}

// List returns summaries in catalog order.
func (c *Catalog) List() []Summary {
	out := make([]Summary, len(c.patterns))
	for i, p := range c.patterns {
		out[i] = p.Summary()
	}
	return out
}

// Get returns the pattern with the given id.
func (c *Catalog) Get(id string) (Pattern, error) {
	i, ok := c.index[id]
	if !ok {
		return Pattern{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c.patterns[i], nil
}

// Len is the number of patterns.
func (c *Catalog) Len() int { return len(c.patterns) }
