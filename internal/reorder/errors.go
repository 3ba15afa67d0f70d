package reorder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrLoadFailed        = errors.New("load failed")
	ErrMoveFailed        = errors.New("move failed")
	ErrRenormalizeFailed = errors.New("renormalize failed")

	ErrNotReady    = errors.New("session not ready")
	ErrBusy        = errors.New("move already in progress")
	ErrInvalidMove = errors.New("invalid move")
)

// Error reports a failed remote interaction. Kind is one of ErrLoadFailed,
// ErrMoveFailed or ErrRenormalizeFailed; ItemIDs lists the items whose rank
// could not be persisted.
type Error struct {
	Kind       error
	Collection string
	ItemIDs    []string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Collection, e.Kind)
	if len(e.ItemIDs) > 0 {
		fmt.Fprintf(&b, " (items %s)", strings.Join(e.ItemIDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
