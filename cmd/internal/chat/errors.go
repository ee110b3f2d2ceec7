package chat

import "errors"

var (
	// ErrForbidden is returned when a member attempts to mutate a message
	// they did not send. The store row must remain untouched.
	ErrForbidden = errors.New("not allowed to change this message")

	// ErrNotFound is returned when a message or room id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for structurally invalid operation input
	// (empty body, missing ids).
	ErrInvalidInput = errors.New("invalid input")
)
