package memory

import "errors"

// ErrNilRecord is returned when a nil record is passed to a write operation.
var ErrNilRecord = errors.New("nil record")

// NotFoundError is returned when a record doesn't exist in the store or has
// been tombstoned.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "record not found"
	}

	return "record not found: " + e.ID
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
