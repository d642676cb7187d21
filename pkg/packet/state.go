package packet

import "fmt"

// State is the packet lifecycle state.
type State string

const (
	StateInitialized State = "initialized"
	StateDispatched  State = "dispatched"
	StateGenerating  State = "generating"
	StateAborted     State = "aborted"
	StateFinalized   State = "finalized"
	StateFailed      State = "failed"
)

// allowedTransitions is the packet state graph. Terminal states have no
// outgoing edges.
var allowedTransitions = map[State][]State{
	StateInitialized: {StateDispatched, StateFailed},
	StateDispatched:  {StateGenerating, StateAborted, StateFailed},
	StateGenerating:  {StateAborted, StateFinalized, StateFailed},
	StateAborted:     {},
	StateFinalized:   {},
	StateFailed:      {},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the packet to the given state, enforcing the transition
// graph. Finalized and failed set the finalized flag.
func (p *CognitionPacket) Advance(to State) error {
	from := p.Status.State
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid packet state transition %s -> %s", from, to)
	}
	p.Status.State = to
	if to == StateFinalized || to == StateFailed || to == StateAborted {
		p.Status.Finalized = true
	}
	return nil
}
