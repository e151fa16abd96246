package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when a user with the same username already exists.
var ErrDuplicateUsername = errors.New("username already exists")
