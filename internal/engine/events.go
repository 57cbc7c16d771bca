package engine

import "fmt"

// EventType defines the type of an engine event.
type EventType int

// Available events.
const (
	EventJoining EventType = iota
	EventJoined
	EventJoinFailed
	EventRejoinFailed
	EventTXComplete
	EventRXComplete
	EventLinkDead
	EventLinkAlive
	EventReset
	EventFault
)

var eventNames = map[EventType]string{
	EventJoining:      "JOINING",
	EventJoined:       "JOINED",
	EventJoinFailed:   "JOIN_FAILED",
	EventRejoinFailed: "REJOIN_FAILED",
	EventTXComplete:   "TX_COMPLETE",
	EventRXComplete:   "RX_COMPLETE",
	EventLinkDead:     "LINK_DEAD",
	EventLinkAlive:    "LINK_ALIVE",
	EventReset:        "RESET",
	EventFault:        "FAULT",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event holds an event raised to the host.
type Event struct {
	Type EventType

	// ACK and NACK are set on EventTXComplete of confirmed uplinks.
	ACK  bool
	NACK bool

	// Port and Payload are set on EventRXComplete.
	Port    uint8
	Payload []byte

	// Err is set on EventFault.
	Err error
}

// Handler defines the function receiving the engine events. It is called
// on the scheduler loop and may call the engine methods.
type Handler func(Event)
