package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle errors. Every error returned by the Loader matches one of these
// through errors.Is.
var (
	// ErrNotFound is returned when a unit does not exist on disk.
	ErrNotFound = errors.New("unit not found")

	// ErrInvalidName is returned for names that are not a single path element.
	ErrInvalidName = errors.New("invalid unit name")

	// ErrInvalidManifest is returned when module.json is missing or invalid.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrProtected is returned when unloading a protected unit.
	ErrProtected = errors.New("unit is protected")

	// ErrAlreadyActive is returned when loading an active unit.
	ErrAlreadyActive = errors.New("unit is already active")

	// ErrNotActive is returned when unloading a unit that is not active.
	ErrNotActive = errors.New("unit is not active")

	// ErrSecurityRejected is returned when the scanner flags a unit.
	ErrSecurityRejected = errors.New("unit rejected by security scan")

	// ErrParse is returned when a unit's source cannot be parsed.
	ErrParse = errors.New("unit source cannot be parsed")

	// ErrActivation is returned when a unit fails to initialize.
	ErrActivation = errors.New("unit activation failed")

	// ErrRegistration is returned when handler registration fails.
	ErrRegistration = errors.New("handler registration failed")
)

// SecurityError lists the items the scanner flagged in a unit.
type SecurityError struct {
	Name  string
	Kind  Kind
	Items []string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("%s unit %q: %v: %s", e.Kind, e.Name, ErrSecurityRejected, strings.Join(e.Items, ", "))
}

// Unwrap returns ErrSecurityRejected.
func (e *SecurityError) Unwrap() error {
	return ErrSecurityRejected
}

// ProtectedError names the protected unit an operation targeted.
type ProtectedError struct {
	Name string
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("unit %q: %v", e.Name, ErrProtected)
}

// Unwrap returns ErrProtected.
func (e *ProtectedError) Unwrap() error {
	return ErrProtected
}
