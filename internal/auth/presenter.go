// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Notice is a user-facing message sent through the Presenter.
type Notice string

// Notices sent by the Orchestrator.
const (
	NoticeSessionRestored Notice = "session restored"
	NoticeAddressChanged  Notice = "your address changed since your last login"
	NoticeSessionExpired  Notice = "your session has expired, please log in again"
	NoticeForcedLogout    Notice = "you have been logged out by an operator"
	NoticeLoggedOut       Notice = "you have been logged out"
)

// Presenter is the presentation layer the Orchestrator drives. All methods
// are invoked on the action loop only.
type Presenter interface {
	// Confine restricts the identity to the unauthenticated area, where only
	// login and registration input is accepted.
	Confine(id Identity)

	// Release lets the identity back into normal interaction and applies
	// the snapshot.
	Release(id Identity, snapshot Snapshot)

	// Notify sends a notice to the identity.
	Notify(id Identity, notice Notice)

	// CaptureSnapshot reads the current world state of the identity.
	// Returns false if the identity has no state to capture.
	CaptureSnapshot(id Identity) (Snapshot, bool)
}
