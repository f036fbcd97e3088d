package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("identity not found")
	ErrCacheMiss = errors.New("cache entry not found")
)

// PersistenceError reports a store transaction that could not complete.
// The resolver guarantees the transaction was rolled back before this
// error is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
