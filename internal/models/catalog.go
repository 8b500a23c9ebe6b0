// Package models defines session tiers and the model catalog.
//
// DESIGN: A model is either available on every tier or plus-only. The catalog
// decides two things at dispatch time:
//   - whether a requested model exists at all
//   - whether a basic-tier session may serve it
package models

import (
	"sort"
	"strings"
)

// Tier is the capability class of an upstream session or a credential.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPlus  Tier = "plus"
)

// ParseTier maps caller-supplied tier names onto a Tier.
// "normal" is the historical name for basic; anything that is not "plus" is basic.
func ParseTier(s string) Tier {
	if strings.EqualFold(strings.TrimSpace(s), string(TierPlus)) {
		return TierPlus
	}
	return TierBasic
}

// String implements fmt.Stringer.
func (t Tier) String() string { return string(t) }

// Tiers lists all tiers in a stable order.
func Tiers() []Tier { return []Tier{TierBasic, TierPlus} }

// defaultBasicModels are served by every tier.
var defaultBasicModels = []string{
	"claude-3-haiku-20240307",
	"claude-3-5-haiku-20241022",
	"claude-3-sonnet-20240229",
}

// defaultPlusModels require a plus session.
var defaultPlusModels = []string{
	"claude-3-opus-20240229",
	"claude-3-5-sonnet-20241022",
	"claude-3-7-sonnet-20250219",
}

// Catalog holds the set of known models and which of them are plus-only.
// A Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	models map[string]bool // name -> plus-only
}

// NewCatalog builds a catalog from explicit model lists.
// Empty lists fall back to the built-in defaults. A model listed in both is plus-only.
func NewCatalog(basic, plus []string) *Catalog {
	if len(basic) == 0 && len(plus) == 0 {
		basic, plus = defaultBasicModels, defaultPlusModels
	}
	c := &Catalog{models: make(map[string]bool, len(basic)+len(plus))}
	for _, m := range basic {
		if m = strings.TrimSpace(m); m != "" {
			c.models[m] = false
		}
	}
	for _, m := range plus {
		if m = strings.TrimSpace(m); m != "" {
			c.models[m] = true
		}
	}
	return c
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog { return NewCatalog(nil, nil) }

// Known reports whether the model is in the catalog.
func (c *Catalog) Known(model string) bool {
	_, ok := c.models[model]
	return ok
}

// IsPlus reports whether the model needs a plus session.
// Unknown models are not plus.
func (c *Catalog) IsPlus(model string) bool {
	return c.models[model]
}

// List returns all model names sorted alphabetically.
func (c *Catalog) List() []string {
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
