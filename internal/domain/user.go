package domain

import (
	"errors"
	"slices"
	"time"
)

// User is a participant known to the identity collaborator. The ledger only
// ever references users by ID.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Group is a named set of members that owns the expenses recorded against it.
type Group struct {
	ID          string
	Name        string
	Description string
	CreatedBy   string
	MemberIDs   []string
	CreatedAt   time.Time
}

// HasMember reports whether userID currently belongs to the group.
func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.MemberIDs, userID)
}

// Authentication errors
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)
