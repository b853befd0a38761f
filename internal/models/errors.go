package models

import "errors"

// Store-level errors shared by every store implementation
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflicts with an existing row")
)
