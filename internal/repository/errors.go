// Package repository implements the persistence layer on MySQL via
// database/sql.  This file defines sentinel errors shared across the
// repositories so that handlers can map failure scenarios onto HTTP
// responses without string matching.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource owned by someone else.  Handlers translate this into 403.
var ErrForbidden = errors.New("forbidden")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint (duplicate plate, duplicate QR token, duplicate
// vehicle/student link).  Handlers translate this into 409.
var ErrDuplicate = errors.New("duplicate")

// ErrEmailExists is returned by user creation when the email is taken.
var ErrEmailExists = errors.New("email already exists")
