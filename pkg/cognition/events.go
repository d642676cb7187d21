package cognition

import (
	"github.com/gaia-runtime/gaia/pkg/observer"
	"github.com/gaia-runtime/gaia/pkg/packet"
)

// EventType discriminates stream events.
type EventType string

const (
	EventToken        EventType = "token"
	EventInterruption EventType = "interruption"
	EventCompleted    EventType = "completed"
)

// StreamEvent is the union yielded to turn consumers. Exactly one payload
// field is set, matching Type.
type StreamEvent struct {
	Type         EventType                `json:"event"`
	Token        string                   `json:"token,omitempty"`
	Interruption *observer.Interrupt      `json:"interruption,omitempty"`
	Packet       *packet.CognitionPacket  `json:"packet,omitempty"`
}

func tokenEvent(text string) StreamEvent {
	return StreamEvent{Type: EventToken, Token: text}
}

func interruptionEvent(interrupt *observer.Interrupt) StreamEvent {
	return StreamEvent{Type: EventInterruption, Interruption: interrupt}
}

func completedEvent(pkt *packet.CognitionPacket) StreamEvent {
	return StreamEvent{Type: EventCompleted, Packet: pkt}
}
