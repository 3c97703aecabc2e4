package users

import "time"

// User is an identity keyed by email, created on first reference.
type User struct {
	ID        string    `json:"userId"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
