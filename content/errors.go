package content

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no entry matches the requested id or slug.
	ErrNotFound = errors.New("content: entry not found")

	// ErrInvalidEntry is returned for field values the store cannot address
	// on disk, such as a malformed date.
	ErrInvalidEntry = errors.New("content: invalid entry")

	// ErrRelocationFailed is returned when an entry's upload directory could
	// not be moved to its new identifying key. The update is rejected.
	ErrRelocationFailed = errors.New("content: relocation failed")

	// ErrKeyChanged is returned by Attach when the entry was relocated after
	// the caller placed its files. The files sit under the old directory.
	ErrKeyChanged = errors.New("content: entry key changed")
)

// RelocationError describes a rejected directory move.
type RelocationError struct {
	From  string
	To    string
	cause error
}

func (e *RelocationError) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "content: relocate %s to %s", e.From, e.To)
	if e.cause != nil {
		fmt.Fprint(&msg, ": ", e.cause)
	}
	return msg.String()
}

func (e *RelocationError) Unwrap() error {
	return e.cause
}

// Is makes errors.Is(err, ErrRelocationFailed) hold for every RelocationError.
func (e *RelocationError) Is(target error) bool {
	return target == ErrRelocationFailed
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntry, fmt.Sprintf(format, args...))
}
