package tools

import "errors"

// Registry errors.
var (
	ErrToolNameEmpty     = errors.New("tool name cannot be empty")
	ErrToolExecuteNil    = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyExists = errors.New("tool already registered")
	ErrToolNotFound      = errors.New("tool not found")
)

// Execution errors shared by tool implementations. The texts double as the
// stable failure tokens reported to callers.
var (
	ErrReadOnly           = errors.New("read-only-mode")
	ErrDisallowed         = errors.New("disallowed-by-rules")
	ErrOutOfBounds        = errors.New("out-of-bounds")
	ErrOccurrenceNotFound = errors.New("occurrence-not-found")
	ErrInvalidPattern     = errors.New("invalid-pattern")
	ErrInvalidURL         = errors.New("invalid-url")
	ErrHTTP               = errors.New("http-error")
	ErrRejected           = errors.New("rejected-by-user")
)
