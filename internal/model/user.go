// Package model defines domain entities for the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the relational owner of lists. It lives only in the identity store
// and is immutable after creation except for validation.
type User struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	OrgID       *uuid.UUID `json:"org_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
}

// IsValidated returns true once the user's email has been confirmed.
func (u *User) IsValidated() bool {
	return u.ValidatedAt != nil
}
