package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors
var (
	ErrInvalidName           = errors.New("invalid name")
	ErrInvalidEmail          = errors.New("invalid email format")
	ErrDescriptionTooLong    = errors.New("description too long")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidIDFormat       = errors.New("invalid ID format")
)

// Validation constants
const (
	MaxNameLength           = 255
	MaxDescriptionLength    = 1024
	MaxIdempotencyKeyLength = 255
	MaxPageSize             = 1000
	DefaultPageSize         = 50
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	idRegex    = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

// ValidateName validates a user or group display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)

	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}

	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}

	return nil
}

// ValidateEmail validates email format
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateID checks that an externally supplied user or group id is usable as
// a ledger key.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIDFormat, id)
	}
	return nil
}

// ValidateAmount validates an expense or settlement amount in minor units.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if amount > MaxAmount {
		return fmt.Errorf("%w: maximum is %d minor units", ErrAmountTooLarge, MaxAmount)
	}

	return nil
}

// ValidateDescription validates free-form expense descriptions and notes.
func ValidateDescription(s string) error {
	if utf8.RuneCountInString(s) > MaxDescriptionLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrDescriptionTooLong, MaxDescriptionLength)
	}
	return nil
}

// ValidateIdempotencyKey validates a client supplied idempotency key.
func ValidateIdempotencyKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingIdempotencyKey
	}

	if len(key) > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLength)
	}

	if strings.HasPrefix(key, ReversalKeyPrefix) {
		return fmt.Errorf("%w: prefix %q is reserved", ErrInvalidIdempotencyKey, ReversalKeyPrefix)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit int, since int64) (int, int64) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if since < 0 {
		since = 0
	}

	return limit, since
}
