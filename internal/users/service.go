package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	Repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// GetOrCreate resolves a user by email, creating it on first reference.
func (s *Service) GetOrCreate(ctx context.Context, email, fullName string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, errors.New("a valid email is required")
	}
	return s.Repo.GetOrCreateByEmail(ctx, User{
		ID:       uuid.NewString(),
		Email:    email,
		FullName: strings.TrimSpace(fullName),
	})
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	if s == nil || s.Repo == nil {
		return User{}, errors.New("users service not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, errors.New("user id is required")
	}
	return s.Repo.GetByID(ctx, userID)
}
