// Package event is the in-process bus that carries unit lifecycle
// notifications from the loader to the rest of the host.
//
// Events are published under hierarchical dot-separated topics
// ("unit.loaded", "unit.rejected") and delivered synchronously, in
// priority order, to every subscription whose pattern matches. Patterns may
// use "*" for one segment and "**" for any number of segments:
//
//	unit.*      matches unit.loaded and unit.failed
//	unit.**     matches unit and every topic below it
//
// Handler panics are recovered by the dispatch executor and never reach
// the publisher.
package event
