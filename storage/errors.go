package storage

import "errors"

// Common storage errors
var (
	// ErrThreadNotFound is returned when a thread does not exist
	ErrThreadNotFound = errors.New("thread not found")

	// ErrThreadExists is returned when creating a thread whose ID is taken
	ErrThreadExists = errors.New("thread already exists")

	// ErrDuplicateMessage is returned when appending a message whose ID exists
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrInvalidMessage is returned when a message is missing required fields
	ErrInvalidMessage = errors.New("invalid message")
)
