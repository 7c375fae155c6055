// Package cli implements the modgate command line: the serve host and the
// offline tools for scanning, checking and removing units and for managing
// the owner roster.
package cli
