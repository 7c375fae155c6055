package plugin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/modgate/internal/plugin/scan"
)

// On-disk layout of units.
const (
	DefaultModulesDir = "modules"
	DefaultCompatDir  = "dragon_modules"

	SourcesDir = "sources"
	MainFile   = "main.lua"
	SourceExt  = ".lua"
)

// Layout locates units on disk.
type Layout struct {
	// ModulesDir holds Standard units, one directory each.
	ModulesDir string

	// CompatDir holds Compat units, one <name>.lua file each.
	CompatDir string
}

// DefaultLayout returns the layout relative to the working directory.
func DefaultLayout() Layout {
	return Layout{
		ModulesDir: DefaultModulesDir,
		CompatDir:  DefaultCompatDir,
	}
}

// Ensure creates the unit directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.ModulesDir, l.CompatDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Descriptor is a unit found on disk.
type Descriptor struct {
	Name string
	Kind Kind

	// Dir is the unit directory for Standard units and the compat
	// directory for Compat units.
	Dir string

	// Entry is the file executed at activation.
	Entry string

	// Sources are the files scanned before activation. The entry is
	// listed when it exists.
	Sources []string

	// Code holds the entry bytes once Read has run. Activation executes
	// these bytes rather than reading Entry again.
	Code []byte

	// Manifest is set for Standard units.
	Manifest *Manifest

	// Err is set by Discover when the unit is present but invalid.
	Err error
}

// Key returns the descriptor's registry key.
func (d *Descriptor) Key() Key {
	return Key{Kind: d.Kind, Name: d.Name}
}

// Read loads every source into memory and keeps the entry bytes in Code,
// so the text scanned is the text run.
func (d *Descriptor) Read() ([]scan.Source, error) {
	sources := make([]scan.Source, 0, len(d.Sources))
	for _, path := range d.Sources {
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if path == d.Entry {
			d.Code = code
		}
		sources = append(sources, scan.Source{Name: path, Code: code})
	}
	return sources, nil
}

// Target returns the path deleted when the unit is removed.
func (d *Descriptor) Target() string {
	if d.Kind == KindCompat {
		return d.Entry
	}
	return d.Dir
}

// ValidateName rejects names that are not a single path element.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Locate finds a unit on disk without validating it.
func (l Layout) Locate(kind Kind, name string) (*Descriptor, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	switch kind {
	case KindStandard:
		dir := filepath.Join(l.ModulesDir, name)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%s unit %q: %w", kind, name, ErrNotFound)
		}
		return &Descriptor{
			Name:  name,
			Kind:  kind,
			Dir:   dir,
			Entry: filepath.Join(dir, SourcesDir, MainFile),
		}, nil

	case KindCompat:
		entry := filepath.Join(l.CompatDir, name+SourceExt)
		info, err := os.Stat(entry)
		if err != nil || !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%s unit %q: %w", kind, name, ErrNotFound)
		}
		return &Descriptor{
			Name:  name,
			Kind:  kind,
			Dir:   l.CompatDir,
			Entry: entry,
		}, nil

	default:
		return nil, fmt.Errorf("unknown unit kind %d", kind)
	}
}

// Validate locates a unit, reads its manifest and lists its sources.
func (l Layout) Validate(kind Kind, name string) (*Descriptor, error) {
	d, err := l.Locate(kind, name)
	if err != nil {
		return nil, err
	}

	if kind == KindCompat {
		d.Sources = []string{d.Entry}
		return d, nil
	}

	m, err := LoadManifest(filepath.Join(d.Dir, ManifestFile), name)
	if err != nil {
		return nil, fmt.Errorf("%s unit %q: %w", kind, name, err)
	}
	d.Manifest = m

	d.Sources, err = listSources(d.Dir, d.Entry)
	if err != nil {
		return nil, fmt.Errorf("%s unit %q: list sources: %w", kind, name, err)
	}
	return d, nil
}

// listSources returns the entry and every .lua file under dir, sorted.
// Symbolic links to files and directories are followed and each real file
// is listed once. A missing entry is left out for activation to report.
func listSources(dir, entry string) ([]string, error) {
	l := &sourceLister{files: make(map[string]bool), dirs: make(map[string]bool)}

	if entry != "" {
		info, err := os.Stat(entry)
		switch {
		case err == nil && info.Mode().IsRegular():
			if err := l.add(entry); err != nil {
				return nil, err
			}
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	if err := l.walk(dir); err != nil {
		return nil, err
	}
	sort.Strings(l.sources)
	return l.sources, nil
}

// ListSources returns every .lua file under dir the way a unit's sources
// are listed for scanning.
func ListSources(dir string) ([]string, error) {
	return listSources(dir, "")
}

type sourceLister struct {
	sources []string
	files   map[string]bool // resolved paths listed
	dirs    map[string]bool // resolved paths walked
}

func (l *sourceLister) add(path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return err
	}
	if !l.files[resolved] {
		l.files[resolved] = true
		l.sources = append(l.sources, path)
	}
	return nil
}

func (l *sourceLister) walk(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case entry.IsDir():
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return err
			}
			if l.dirs[resolved] {
				return filepath.SkipDir
			}
			l.dirs[resolved] = true
		case entry.Type()&fs.ModeSymlink != 0:
			return l.follow(path)
		case entry.Type().IsRegular() && filepath.Ext(path) == SourceExt:
			return l.add(path)
		}
		return nil
	})
}

// follow lists the target of the link at path. Linked directories are
// walked at their resolved location. Dangling links are skipped.
func (l *sourceLister) follow(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.IsDir() {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}
		return l.walk(resolved)
	}
	if info.Mode().IsRegular() && filepath.Ext(path) == SourceExt {
		return l.add(path)
	}
	return nil
}

// Discover lists every unit present on disk, Standard units first, each
// kind sorted by name. Invalid units are included with Err set. Missing
// unit directories are not an error.
func (l Layout) Discover() ([]*Descriptor, error) {
	var found []*Descriptor

	names, err := readNames(l.ModulesDir, func(e fs.DirEntry) (string, bool) {
		return e.Name(), e.IsDir()
	})
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		found = append(found, l.describe(KindStandard, name))
	}

	names, err = readNames(l.CompatDir, func(e fs.DirEntry) (string, bool) {
		if e.IsDir() || filepath.Ext(e.Name()) != SourceExt {
			return "", false
		}
		return strings.TrimSuffix(e.Name(), SourceExt), true
	})
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		found = append(found, l.describe(KindCompat, name))
	}

	return found, nil
}

func (l Layout) describe(kind Kind, name string) *Descriptor {
	d, err := l.Validate(kind, name)
	if err != nil {
		return &Descriptor{Name: name, Kind: kind, Err: err}
	}
	return d
}

func readNames(dir string, pick func(fs.DirEntry) (string, bool)) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if name, ok := pick(e); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a unit's files.
func Remove(d *Descriptor) error {
	target := d.Target()
	var err error
	if d.Kind == KindCompat {
		err = os.Remove(target)
	} else {
		err = os.RemoveAll(target)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	return nil
}
