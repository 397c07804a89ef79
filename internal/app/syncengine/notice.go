package syncengine

// NoticeType represents a user-facing notice from the engine.
type NoticeType int

const (
	NoticeSessionEnded    NoticeType = iota // the session record was deleted
	NoticeReturnHome                        // grace delay elapsed, leave the session view
	NoticePlaybackBlocked                   // local play() failed (autoplay policy)
)

// String returns the string representation of the notice type.
func (n NoticeType) String() string {
	switch n {
	case NoticeSessionEnded:
		return "session_ended"
	case NoticeReturnHome:
		return "return_home"
	case NoticePlaybackBlocked:
		return "playback_blocked"
	default:
		return "unknown"
	}
}

// Notice is a non-fatal, local-only message surfaced to the user. Notices
// never mutate shared state.
type Notice struct {
	Type    NoticeType
	Message string
}
