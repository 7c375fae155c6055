// Package events defines the topics published on the host event bus.
package events

import "github.com/dshills/modgate/internal/event/topic"

// Unit lifecycle topics. The payload of each is a plugin.Event.
const (
	// TopicUnitLoaded is published when a unit becomes active.
	TopicUnitLoaded topic.Topic = "unit.loaded"

	// TopicUnitUnloaded is published when a unit is retired or removed.
	TopicUnitUnloaded topic.Topic = "unit.unloaded"

	// TopicUnitRejected is published when a unit fails its source scan.
	TopicUnitRejected topic.Topic = "unit.rejected"

	// TopicUnitFailed is published when any other lifecycle operation fails.
	TopicUnitFailed topic.Topic = "unit.failed"

	// TopicUnitAll matches every unit lifecycle topic.
	TopicUnitAll topic.Topic = "unit.*"
)
