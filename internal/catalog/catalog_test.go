package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCatalogLoads(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("embedded catalog is empty")
	}

	it, ok := c.Lookup("display_density")
	if !ok {
		t.Fatal("display_density not in catalog")
	}
	if _, isShell := it.Accessor.(ShellPair); !isShell {
		t.Errorf("display_density accessor = %T, want ShellPair", it.Accessor)
	}
	if !it.RequiresElevation {
		t.Error("display_density should require elevation by default")
	}

	fs, ok := c.Lookup("font_scale")
	if !ok {
		t.Fatal("font_scale not in catalog")
	}
	if fs.RequiresElevation {
		t.Error("font_scale should be writable without elevation")
	}
	if fs.Category.ID != "text" {
		t.Errorf("font_scale category = %q, want text", fs.Category.ID)
	}
}

func TestItemsOrderedByCategory(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	last := -1
	for _, it := range c.Items() {
		ci := categoryIndex(it.Category.ID)
		if ci < last {
			t.Fatalf("item %s (category %s) out of order", it.ID, it.Category.ID)
		}
		last = ci
	}
}

func TestGroupsPreserveTableOrder(t *testing.T) {
	table := `
items:
  - id: b
    category: sound
    system: b
    platform_default: "1"
    foreign_default: "0"
  - id: a
    category: animations
    global: a
    platform_default: "1.0"
    foreign_default: "0.5"
  - id: c
    category: sound
    system: c
    platform_default: "1"
    foreign_default: "0"
`
	c, err := Parse([]byte(table))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	groups := c.Groups()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Category.ID != "animations" || groups[1].Category.ID != "sound" {
		t.Errorf("group order = %s, %s", groups[0].Category.ID, groups[1].Category.ID)
	}
	if ids := []string{groups[1].Items[0].ID, groups[1].Items[1].ID}; ids[0] != "b" || ids[1] != "c" {
		t.Errorf("sound items = %v, want [b c]", ids)
	}
}

func TestParseRejectsInvalidTables(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		wantErr string
	}{
		{
			name:    "empty",
			table:   "items: []",
			wantErr: "no items",
		},
		{
			name: "missing id",
			table: `
items:
  - category: sound
    system: x
    platform_default: "1"
    foreign_default: "0"`,
			wantErr: "missing id",
		},
		{
			name: "duplicate id",
			table: `
items:
  - {id: x, category: sound, system: x, platform_default: "1", foreign_default: "0"}
  - {id: x, category: sound, system: y, platform_default: "1", foreign_default: "0"}`,
			wantErr: "duplicate id",
		},
		{
			name: "unknown category",
			table: `
items:
  - {id: x, category: weather, system: x, platform_default: "1", foreign_default: "0"}`,
			wantErr: "unknown category",
		},
		{
			name: "two accessors",
			table: `
items:
  - {id: x, category: sound, system: x, global: x, platform_default: "1", foreign_default: "0"}`,
			wantErr: "want exactly one",
		},
		{
			name: "no accessor",
			table: `
items:
  - {id: x, category: sound, platform_default: "1", foreign_default: "0"}`,
			wantErr: "no accessor",
		},
		{
			name: "shell without write",
			table: `
items:
  - id: x
    category: display
    shell: {read: "wm density"}
    platform_default: "1"
    foreign_default: "0"`,
			wantErr: "both read and write",
		},
		{
			name: "missing default",
			table: `
items:
  - {id: x, category: sound, system: x, platform_default: "1"}`,
			wantErr: "foreign_default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.table))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	table := `
items:
  - {id: only, category: system, global: only, platform_default: "0", foreign_default: "1"}
`
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
