package db

import (
	"errors"
	"fmt"
)

// ErrNilCollection is returned when a backend was built without a handle.
var ErrNilCollection = errors.New("datastore collection is nil")

// defaultDetail is reported when the backend gave no usable message.
const defaultDetail = "Database error"

// Error is a failed read or write against the datastore. Detail carries the
// vendor's message when one was available.
type Error struct {
	Op     string
	Table  string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("datastore %s %s", e.Op, e.Table)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the vendor detail of a datastore error, or a generic
// message for anything else.
func Detail(err error) string {
	var dbErr *Error
	if errors.As(err, &dbErr) && dbErr.Detail != "" {
		return dbErr.Detail
	}
	return defaultDetail
}
