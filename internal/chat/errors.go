package chat

import "errors"

// The error taxonomy surfaced to transport. Storage failures below the
// service propagate wrapped as upstream-equivalent errors; cleanup failures
// never surface here at all.
var (
	// ErrValidation means a required request field was missing. No side
	// effects have occurred.
	ErrValidation = errors.New("missing required fields")
	// ErrPersonaNotFound means no prompt exists for the requested character.
	ErrPersonaNotFound = errors.New("character not found")
	// ErrTranscriptNotFound covers both an absent transcript and one owned
	// by a different visitor or character.
	ErrTranscriptNotFound = errors.New("transcript not found")
	// ErrBanned means the visitor's access was revoked; no completion call
	// is ever placed for them again.
	ErrBanned = errors.New("access revoked")
	// ErrUpstream wraps completion/extraction service failures. The user's
	// already-persisted turn is retained.
	ErrUpstream = errors.New("completion service failure")
)
