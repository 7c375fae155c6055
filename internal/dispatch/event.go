package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Event is an inbound message delivered to handlers.
type Event struct {
	ID   string    `json:"id"`
	From int64     `json:"from"`
	Self bool      `json:"self"`
	Text string    `json:"text"`
	Time time.Time `json:"-"`

	// Reply receives handler responses. Nil discards them.
	Reply func(text string) `json:"-"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(from int64, self bool, text string) *Event {
	return &Event{
		ID:   uuid.NewString(),
		From: from,
		Self: self,
		Text: text,
		Time: time.Now(),
	}
}

// Respond passes text to the event's reply sink.
func (e *Event) Respond(text string) {
	if e.Reply != nil {
		e.Reply(text)
	}
}
