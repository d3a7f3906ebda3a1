package postgres

import "errors"

// Sentinel errors shared by the Postgres repositories.
var (
	ErrNotFound      = errors.New("record not found")
	ErrSystemRule    = errors.New("system rules cannot be deleted")
	ErrAlreadyExists = errors.New("record already exists")
)
