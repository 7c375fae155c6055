package plugin

// State is the lifecycle state of a unit name.
type State int

// Unit states. A load moves a name forward through Validated and Scanned
// to Active; an unload or a failed load returns it to Absent.
const (
	// StateAbsent - no active unit and no load in progress.
	StateAbsent State = iota

	// StateValidated - on-disk layout and manifest accepted.
	StateValidated

	// StateScanned - source passed the scanner.
	StateScanned

	// StateActive - handlers registered and catalog entry present.
	StateActive
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateValidated:
		return "validated"
	case StateScanned:
		return "scanned"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
