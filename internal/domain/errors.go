// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates that a document with the same identity was already written.
var ErrConflict = errors.New("conflict: document already exists")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("validation error")
