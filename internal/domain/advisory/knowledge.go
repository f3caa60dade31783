// Package advisory resolves detector labels to recycling and reuse advice.
//
// Knowledge tables are ordered. Lookup lower-cases the label and returns the
// first category, in declaration order, whose key occurs in it. A label that
// contains two keys therefore resolves to whichever was declared first; there
// is no best-match or specificity ranking.
package advisory

import (
	"fmt"
	"slices"
	"strings"
)

// Category is one knowledge-base entry: a lower-case key and its advice.
type Category struct {
	Key   string
	Items []string
}

// Table is an ordered list of categories scanned linearly on lookup.
type Table struct {
	name       string
	categories []Category
}

// NewTable builds a table. Keys are trimmed and lower-cased; empty or
// duplicate keys are rejected.
func NewTable(name string, categories ...Category) (*Table, error) {
	t := &Table{name: name, categories: make([]Category, 0, len(categories))}
	seen := make(map[string]struct{}, len(categories))
	for i, c := range categories {
		key := strings.ToLower(strings.TrimSpace(c.Key))
		if key == "" {
			return nil, fmt.Errorf("%w: %s entry %d has an empty key", ErrInvalidKnowledgeBase, name, i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s declares %q twice", ErrInvalidKnowledgeBase, name, key)
		}
		seen[key] = struct{}{}
		t.categories = append(t.categories, Category{Key: key, Items: slices.Clone(c.Items)})
	}
	return t, nil
}

// MustTable is NewTable for static tables; it panics on error.
func MustTable(name string, categories ...Category) *Table {
	t, err := NewTable(name, categories...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name identifies the table in logs and metrics.
func (t *Table) Name() string { return t.name }

// Keys returns the category keys in precedence order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.categories))
	for i, c := range t.categories {
		keys[i] = c.Key
	}
	return keys
}

// Len returns the number of categories.
func (t *Table) Len() int { return len(t.categories) }

// Match returns the first category whose key is a substring of the
// lower-cased label. An empty label never matches.
func (t *Table) Match(label string) (Category, bool) {
	if label == "" {
		return Category{}, false
	}
	lowered := strings.ToLower(label)
	for _, c := range t.categories {
		if strings.Contains(lowered, c.Key) {
			return c, true
		}
	}
	return Category{}, false
}

// KnowledgeBase holds the two advice tables. Reuse knowledge need not cover
// the same categories as recycling knowledge.
type KnowledgeBase struct {
	Recycling *Table
	Reuse     *Table
}

// Default returns the built-in e-waste knowledge base.
func Default() KnowledgeBase {
	return KnowledgeBase{
		Recycling: MustTable(TableRecycling,
			Category{Key: "battery", Items: []string{
				"Recycle at certified e-waste centers",
				"Many electronic stores offer battery recycling programs",
				"Never dispose of in regular trash due to hazardous materials",
			}},
			Category{Key: "circuit board", Items: []string{
				"Contains valuable metals that can be recovered",
				"Donate to educational institutions for STEM projects",
				"Take to specialized e-waste recyclers",
			}},
			Category{Key: "charger", Items: []string{
				"Check with manufacturer for take-back programs",
				"Recycle at e-waste collection events",
				"Can often be reused with other compatible devices",
			}},
			Category{Key: "mobile", Items: []string{
				"Many carrier stores offer trade-in or recycling programs",
				"Donate working phones to charity organizations",
				"Remove personal data before recycling",
			}},
			Category{Key: "laptop", Items: []string{
				"Many manufacturers have take-back programs",
				"Separate battery before recycling",
				"Consider donation if still functional",
			}},
			Category{Key: "adapter", Items: []string{
				"Recycle with other electronic accessories",
				"Check if compatible with other devices before disposal",
				"E-waste collection sites accept these items",
			}},
		),
		Reuse: MustTable(TableReuse,
			Category{Key: "circuit board", Items: []string{
				"Create decorative art or jewelry",
				"Use in STEM education projects",
				"Make coasters or wall art",
			}},
			Category{Key: "charger", Items: []string{
				"Repurpose cables for cable management",
				"Use as plant ties in garden",
				"Convert to a keychain or cable organizer",
			}},
			Category{Key: "mobile", Items: []string{
				"Repurpose as a dedicated music player",
				"Use as a home security camera",
				"Convert to a remote control for smart home devices",
			}},
			Category{Key: "laptop", Items: []string{
				"Convert to a digital photo frame",
				"Use as a dedicated media server",
				"Repurpose as a kitchen cookbook display",
			}},
		),
	}
}

// Table names.
const (
	TableRecycling = "recycling"
	TableReuse     = "reuse"
)
