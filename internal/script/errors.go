package script

import (
	"errors"
	"fmt"
)

// Errors returned by the script host.
var (
	ErrScriptClosed   = errors.New("script is closed")
	ErrScriptNotFound = errors.New("script not found")
	ErrHostClosed     = errors.New("script host is closed")
)

// Error is a failure raised by Lua code.
type Error struct {
	// Script is the script name, usually its path.
	Script string
	// Err is the underlying Lua or context error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("script %s: %v", e.Script, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
