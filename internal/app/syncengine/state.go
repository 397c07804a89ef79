// Package syncengine reconciles a client's local audio transport against the
// replicated session record.
package syncengine

// State represents the engine's synchronization state.
type State int

const (
	StateDisconnected State = iota // not subscribed to any session
	StateSyncing                   // subscribed, first snapshot pending
	StateSynced                    // local transport tracks the record
	StateCorrecting                // forcing local position onto the record
	StateSessionEnded              // record deleted, terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSyncing:
		return "syncing"
	case StateSynced:
		return "synced"
	case StateCorrecting:
		return "correcting"
	case StateSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}
