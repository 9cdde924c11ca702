package services

import (
	"errors"
	"fmt"
)

var (
	// ErrUserExists is returned when a username or email is already registered.
	ErrUserExists = errors.New("username or email already registered")
	// ErrUserNotFound is returned by store lookups that match no record.
	ErrUserNotFound = errors.New("user not found")
	// ErrVerificationFailed collapses every verification failure into one outcome.
	ErrVerificationFailed = errors.New("verification link is invalid or has expired")
	// ErrAuthFailed collapses every login failure into one outcome.
	ErrAuthFailed = errors.New("login failed, check your username and password")
)

// NotificationError reports that the verification email could not be sent.
// The account it refers to has already been committed.
type NotificationError struct {
	Email string
	Err   error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("send verification email to %s: %v", e.Email, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
