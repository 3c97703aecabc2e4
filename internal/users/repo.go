package users

import "context"

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "user not found" }

// Repo defines persistence operations for users. Users are never deleted.
type Repo interface {
	GetOrCreateByEmail(ctx context.Context, user User) (User, error)
	GetByID(ctx context.Context, userID string) (User, error)
}
