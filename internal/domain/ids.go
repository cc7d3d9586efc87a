// Package domain contains pure business logic and types.
// No external dependencies allowed - this is the innermost ring of Clean Architecture.
package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// UserID is the 64-bit external identifier Upstream and the chat-bot both
// use to refer to a person. It is not a UUID: it arrives from the bot
// bridge and from batch target lists as a plain integer.
type UserID uint64

// NewUserID parses a raw decimal string into a UserID.
func NewUserID(raw string) (UserID, error) {
	if raw == "" {
		return 0, ErrEmptyID
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID %q: %w", raw, ErrInvalidID)
	}
	return UserID(v), nil
}

// MustUserID creates a UserID, panicking on invalid input. Use only in tests.
func MustUserID(raw string) UserID {
	id, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id UserID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id UserID) IsZero() bool   { return id == 0 }
func (id UserID) Uint64() uint64 { return uint64(id) }

// MarkingSessionID is a value object identifying a single mass-marking run.
// Unlike UserID, this is broker-generated, so a UUID is the natural shape.
type MarkingSessionID struct {
	value string
}

// NewMarkingSessionID parses a raw string into a MarkingSessionID, validating
// it is a UUID.
func NewMarkingSessionID(raw string) (MarkingSessionID, error) {
	if raw == "" {
		return MarkingSessionID{}, ErrEmptyID
	}
	if _, err := uuid.Parse(raw); err != nil {
		return MarkingSessionID{}, fmt.Errorf("invalid marking session ID %q: %w", raw, ErrInvalidID)
	}
	return MarkingSessionID{value: raw}, nil
}

// MustMarkingSessionID creates a MarkingSessionID, panicking on invalid input.
// Use only in tests.
func MustMarkingSessionID(raw string) MarkingSessionID {
	id, err := NewMarkingSessionID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateMarkingSessionID creates a new random MarkingSessionID.
func GenerateMarkingSessionID() MarkingSessionID {
	return MarkingSessionID{value: uuid.NewString()}
}

func (id MarkingSessionID) String() string { return id.value }
func (id MarkingSessionID) IsZero() bool   { return id.value == "" }
