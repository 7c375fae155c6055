package plugin

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
)

// CatalogEntry lists the commands one active unit contributes.
type CatalogEntry struct {
	Name     string
	Compat   bool
	Commands []string

	// Help maps a usage line such as "greet <name>" to its description.
	// Only Compat units provide it.
	Help map[string]string
}

// HelpCatalog maps active units to their commands. An entry exists exactly
// while its unit is active; the Registry is the only writer.
type HelpCatalog struct {
	mu      sync.RWMutex
	entries map[Key]CatalogEntry
}

// NewHelpCatalog creates an empty catalog.
func NewHelpCatalog() *HelpCatalog {
	return &HelpCatalog{
		entries: make(map[Key]CatalogEntry),
	}
}

// Add inserts or replaces the entry for key.
func (c *HelpCatalog) Add(key Key, commands []string, help map[string]string) {
	entry := CatalogEntry{
		Name:     key.Name,
		Compat:   key.Kind == KindCompat,
		Commands: slices.Clone(commands),
		Help:     maps.Clone(help),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// Remove deletes the entry for key and reports whether it existed.
func (c *HelpCatalog) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Get returns the entry for key.
func (c *HelpCatalog) Get(key Key) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return CatalogEntry{}, false
	}
	return cloneEntry(entry), true
}

// Has reports whether key has an entry.
func (c *HelpCatalog) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// List returns all entries, Standard before Compat, each sorted by name.
func (c *HelpCatalog) List() []CatalogEntry {
	c.mu.RLock()
	out := make([]CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, cloneEntry(entry))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Compat != out[j].Compat {
			return !out[i].Compat
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Find returns the entries that provide command.
func (c *HelpCatalog) Find(command string) []CatalogEntry {
	var out []CatalogEntry
	for _, entry := range c.List() {
		if slices.Contains(entry.Commands, command) {
			out = append(out, entry)
		}
	}
	return out
}

// Len returns the number of entries.
func (c *HelpCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneEntry(e CatalogEntry) CatalogEntry {
	e.Commands = slices.Clone(e.Commands)
	e.Help = maps.Clone(e.Help)
	return e
}

// CommandTable is the legacy help table a Compat unit fills while it runs:
// module name, then usage line, then description.
type CommandTable map[string]map[string]string

// Commands returns the first word of every usage line, deduplicated and
// sorted.
func (t CommandTable) Commands() []string {
	seen := make(map[string]bool)
	var out []string
	for _, usages := range t {
		for usage := range usages {
			fields := strings.Fields(usage)
			if len(fields) == 0 || seen[fields[0]] {
				continue
			}
			seen[fields[0]] = true
			out = append(out, fields[0])
		}
	}
	sort.Strings(out)
	return out
}

// Help merges the usage lines of all modules in the table.
func (t CommandTable) Help() map[string]string {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, usages := range t {
		maps.Copy(out, usages)
	}
	return out
}
