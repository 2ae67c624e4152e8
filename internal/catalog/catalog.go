// Package catalog holds the fixed table of configuration items parity knows
// how to reconcile. The table is embedded at build time and never mutated.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultTable []byte

// Category groups related items for display.
type Category struct {
	ID          string
	DisplayName string
	Symbol      string
}

// Categories in display order.
var Categories = []Category{
	{ID: "animations", DisplayName: "Animations", Symbol: "⚡"},
	{ID: "display", DisplayName: "Display", Symbol: "🖥"},
	{ID: "text", DisplayName: "Text & Font", Symbol: "T"},
	{ID: "sound", DisplayName: "Sound", Symbol: "🔊"},
	{ID: "haptics", DisplayName: "Haptics", Symbol: "📳"},
	{ID: "keyboard", DisplayName: "Keyboard", Symbol: "⌨"},
	{ID: "navigation", DisplayName: "Navigation", Symbol: "◀"},
	{ID: "accessibility", DisplayName: "Accessibility", Symbol: "♿"},
	{ID: "lock_screen", DisplayName: "Lock Screen", Symbol: "🔒"},
	{ID: "vendor", DisplayName: "Vendor UI", Symbol: "🌙"},
	{ID: "system", DisplayName: "System", Symbol: "⚙"},
}

func categoryIndex(id string) int {
	for i, c := range Categories {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// Item is one configuration value that can be reconciled against the
// platform default, the foreign-platform default, or a custom value.
type Item struct {
	ID       string
	Title    string
	Subtitle string
	Category Category
	Accessor Accessor

	PlatformDefault string
	ForeignDefault  string

	// RequiresElevation is false only for items writable through the direct
	// channel (system namespace, grantable permission).
	RequiresElevation bool

	// Unit is appended to values for display, e.g. "×" or "ms".
	Unit string
}

// Group is a category together with its items in table order.
type Group struct {
	Category Category
	Items    []Item
}

// Catalog is an immutable, ordered set of items.
type Catalog struct {
	items []Item
	byID  map[string]int
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(defaultTable)
}

// LoadFile parses an operator-supplied table with the same schema as the
// embedded one.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Items returns every item ordered by category, then by table order within a category.
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Lookup returns the item with the given id.
func (c *Catalog) Lookup(id string) (Item, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Len returns the number of items.
func (c *Catalog) Len() int { return len(c.items) }

// Groups returns non-empty categories in display order.
func (c *Catalog) Groups() []Group {
	var groups []Group
	for _, it := range c.items {
		if n := len(groups); n > 0 && groups[n-1].Category.ID == it.Category.ID {
			groups[n-1].Items = append(groups[n-1].Items, it)
			continue
		}
		groups = append(groups, Group{Category: it.Category, Items: []Item{it}})
	}
	return groups
}

// --- table parsing ---

type rawTable struct {
	Items []rawItem `yaml:"items"`
}

type rawShell struct {
	Read  string `yaml:"read"`
	Write string `yaml:"write"`
}

type rawItem struct {
	ID                string    `yaml:"id"`
	Title             string    `yaml:"title"`
	Subtitle          string    `yaml:"subtitle"`
	Category          string    `yaml:"category"`
	System            string    `yaml:"system"`
	Secure            string    `yaml:"secure"`
	Global            string    `yaml:"global"`
	Shell             *rawShell `yaml:"shell"`
	PlatformDefault   string    `yaml:"platform_default"`
	ForeignDefault    string    `yaml:"foreign_default"`
	RequiresElevation *bool     `yaml:"requires_elevation"`
	Unit              string    `yaml:"unit"`
}

func (r rawItem) accessor() (Accessor, error) {
	var found []Accessor
	if r.System != "" {
		found = append(found, System{Key: r.System})
	}
	if r.Secure != "" {
		found = append(found, Secure{Key: r.Secure})
	}
	if r.Global != "" {
		found = append(found, Global{Key: r.Global})
	}
	if r.Shell != nil {
		if strings.TrimSpace(r.Shell.Read) == "" || strings.TrimSpace(r.Shell.Write) == "" {
			return nil, fmt.Errorf("shell accessor needs both read and write commands")
		}
		found = append(found, ShellPair{Read: r.Shell.Read, WriteTemplate: r.Shell.Write})
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no accessor (one of system, secure, global, shell)")
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%d accessors given, want exactly one", len(found))
	}
}

// Parse decodes and validates a catalog table.
func Parse(data []byte) (*Catalog, error) {
	var raw rawTable
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(raw.Items) == 0 {
		return nil, fmt.Errorf("catalog has no items")
	}

	type indexed struct {
		item Item
		cat  int
	}
	seen := make(map[string]bool, len(raw.Items))
	entries := make([]indexed, 0, len(raw.Items))

	for i, r := range raw.Items {
		if r.ID == "" {
			return nil, fmt.Errorf("item %d: missing id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("item %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		ci := categoryIndex(r.Category)
		if ci < 0 {
			return nil, fmt.Errorf("item %q: unknown category %q", r.ID, r.Category)
		}
		acc, err := r.accessor()
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", r.ID, err)
		}
		if r.PlatformDefault == "" || r.ForeignDefault == "" {
			return nil, fmt.Errorf("item %q: platform_default and foreign_default are required", r.ID)
		}

		requires := true
		if r.RequiresElevation != nil {
			requires = *r.RequiresElevation
		}

		entries = append(entries, indexed{
			item: Item{
				ID:                r.ID,
				Title:             r.Title,
				Subtitle:          r.Subtitle,
				Category:          Categories[ci],
				Accessor:          acc,
				PlatformDefault:   r.PlatformDefault,
				ForeignDefault:    r.ForeignDefault,
				RequiresElevation: requires,
				Unit:              r.Unit,
			},
			cat: ci,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].cat < entries[j].cat
	})

	c := &Catalog{
		items: make([]Item, len(entries)),
		byID:  make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		c.items[i] = e.item
		c.byID[e.item.ID] = i
	}
	return c, nil
}
