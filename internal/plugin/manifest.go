package plugin

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ManifestFile is the manifest file name inside a Standard unit directory.
const ManifestFile = "module.json"

//go:embed schema/module.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Manifest describes a Standard unit.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Commands    []string `json:"commands"`
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("module.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("module.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// LoadManifest reads and validates a manifest file. The unit name is the
// directory name and fills in a missing manifest name; a declared name is
// kept as display metadata. All validation failures wrap ErrInvalidManifest.
func LoadManifest(path, unit string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing", ErrInvalidManifest, ManifestFile)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return ParseManifest(data, unit)
}

// ParseManifest validates raw manifest bytes.
func ParseManifest(data []byte, unit string) (*Manifest, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidManifest, describeIssues(ve))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.applyDefaults(unit)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults(unit string) {
	if m.Name == "" {
		m.Name = unit
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks the fields the schema cannot express.
func (m *Manifest) Validate() error {
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalidManifest, m.Version, err)
	}
	return nil
}

// SemVer returns the parsed manifest version.
func (m *Manifest) SemVer() *semver.Version {
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil
	}
	return v
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// describeIssues flattens the leaf causes of a validation error.
func describeIssues(ve *jsonschema.ValidationError) string {
	var issues []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := "/" + strings.Join(e.InstanceLocation, "/")
			msg := e.Error()
			if e.ErrorKind != nil {
				msg = e.ErrorKind.LocalizedString(printer)
			}
			issues = append(issues, loc+": "+msg)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(issues, "; ")
}
