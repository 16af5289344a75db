package repository

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientStock is returned when a reserve would take the
	// available count below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrVersionConflict is returned by compare-and-set cart writes when
	// the stored version no longer matches the expected version.
	ErrVersionConflict = errors.New("cart version conflict")

	// ErrDuplicateKey is returned when an insert collides with a unique
	// constraint, such as the order idempotency key or an active attempt.
	ErrDuplicateKey = errors.New("duplicate key")
)

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
