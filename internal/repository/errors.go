package repository

import "errors"

// Generic repository-level sentinel errors; services translate these into their own taxonomy.
var (
	ErrNotFound       = errors.New("repository: record not found")
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)
