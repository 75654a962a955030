package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrRejected          = errors.New("rejected")
	ErrAlreadyExists     = errors.New("already exists")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrRateLimited       = errors.New("rate limited")
	ErrFatal             = errors.New("fatal")
)

var (
	ErrNameTooLong = fmt.Errorf("%w: display name too long", ErrInvalidArgument)
	ErrIDTooLong   = fmt.Errorf("%w: id too long", ErrInvalidArgument)
	ErrInvalidRole = fmt.Errorf("%w: unknown role", ErrInvalidArgument)
)

// Invalid builds an ErrInvalidArgument with a reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}

// Code maps an error to the stable code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "internal"
	}
}
