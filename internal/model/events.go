package model

import "fmt"

// EventType is one member of the closed event taxonomy webhooks subscribe to.
type EventType string

const (
	EventTicketCreated         EventType = "ticket.created"
	EventTicketStatusChanged   EventType = "ticket.status_changed"
	EventTicketAssigned        EventType = "ticket.assigned"
	EventTicketPriorityChanged EventType = "ticket.priority_changed"
	EventTicketClosed          EventType = "ticket.closed"
	EventMessageCreated        EventType = "message.created"
	EventReplyReceived         EventType = "reply.received"
)

// TaxonomyVersion is bumped whenever a member is added or removed.
const TaxonomyVersion = 1

type eventMeta struct {
	Label       string
	Description string
}

var eventTable = map[EventType]eventMeta{
	EventTicketCreated:         {"Ticket created", "A new ticket was opened."},
	EventTicketStatusChanged:   {"Ticket status changed", "A ticket moved to a different status."},
	EventTicketAssigned:        {"Ticket assigned", "A ticket was assigned or reassigned to an agent."},
	EventTicketPriorityChanged: {"Ticket priority changed", "The priority of a ticket was changed."},
	EventTicketClosed:          {"Ticket closed", "A ticket was resolved and closed."},
	EventMessageCreated:        {"Message created", "An agent or customer added a message to a ticket."},
	EventReplyReceived:         {"Reply received", "A customer reply arrived through an inbound channel."},
}

// AllEventTypes returns the taxonomy in presentation order.
func AllEventTypes() []EventType {
	return []EventType{
		EventTicketCreated,
		EventTicketStatusChanged,
		EventTicketAssigned,
		EventTicketPriorityChanged,
		EventTicketClosed,
		EventMessageCreated,
		EventReplyReceived,
	}
}

// Valid reports whether e is a member of the taxonomy.
func (e EventType) Valid() bool {
	switch e {
	case EventTicketCreated,
		EventTicketStatusChanged,
		EventTicketAssigned,
		EventTicketPriorityChanged,
		EventTicketClosed,
		EventMessageCreated,
		EventReplyReceived:
		return true
	}
	return false
}

func (e EventType) Label() string       { return eventTable[e].Label }
func (e EventType) Description() string { return eventTable[e].Description }
func (e EventType) String() string      { return string(e) }

// ParseEventType validates a wire string against the taxonomy.
func ParseEventType(s string) (EventType, error) {
	e := EventType(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return e, nil
}

// EventTypeInfo is the presentation view of a taxonomy member.
type EventTypeInfo struct {
	Type        EventType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
}

func Taxonomy() []EventTypeInfo {
	out := make([]EventTypeInfo, 0, len(eventTable))
	for _, e := range AllEventTypes() {
		out = append(out, EventTypeInfo{Type: e, Label: e.Label(), Description: e.Description()})
	}
	return out
}
