// Package permission decides whether a client may perform a mutating action
// on a session record. Every check is a pure function of record plus caller
// identity and runs locally, before any store call; a denied action never
// produces a store write.
package permission

import "github.com/tunejam/tunejam/internal/domain/session"

// CanControl reports whether the client may write transport fields
// (play/pause, position, current track). The controller is the host, or any
// client once the host has opened permissions. This is a convention enforced
// here, not by the store; there is no leader election.
func CanControl(rec *session.Record, clientID string) bool {
	return rec.IsHost(clientID) || rec.AllPermissions
}

// CanAppendTrack reports whether the client may add a track. Adding the
// first track to an empty playlist is allowed for anyone, otherwise a
// non-host could never start playback before permissions are opened.
func CanAppendTrack(rec *session.Record, clientID string) bool {
	if len(rec.Playlist) == 0 {
		return true
	}
	return CanControl(rec, clientID)
}

// CanRemoveTrack reports whether the client may remove a playlist entry.
// Host only; open permissions cover playback control, not destructive edits.
func CanRemoveTrack(rec *session.Record, clientID string) bool {
	return rec.IsHost(clientID)
}

// CanOpenPermissions reports whether the client may flip AllPermissions.
// Host only.
func CanOpenPermissions(rec *session.Record, clientID string) bool {
	return rec.IsHost(clientID)
}

// CanManageJoinRequests reports whether the client may approve or deny
// pending join requests. Host only.
func CanManageJoinRequests(rec *session.Record, clientID string) bool {
	return rec.IsHost(clientID)
}
