package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/listsync/listsync/internal/model"
)

// UserService registers and looks up list owners.
type UserService struct {
	users    UserStore
	validate *validator.Validate
	deps     sagaDeps
}

// NewUserService creates a UserService.
func NewUserService(users UserStore, opts Options) *UserService {
	return &UserService{
		users:    users,
		validate: validator.New(),
		deps:     opts.deps("users"),
	}
}

// Register returns the user owning email, creating it when needed.
func (s *UserService) Register(ctx context.Context, email string, orgID *uuid.UUID) (*model.User, error) {
	email, err := s.normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	user, err := s.users.PutUser(ctx, email, orgID)
	if err != nil {
		return nil, &SyncError{Kind: ErrCreateFailed, Entity: EntityUser, Key: email, Err: err}
	}
	s.deps.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Get looks a user up by id, email or both. With both, the user is only
// returned when they identify the same row. It returns nil when no user
// matches.
func (s *UserService) Get(ctx context.Context, id *uuid.UUID, email *string) (*model.User, error) {
	if email != nil {
		normalized, err := s.normalizeEmail(*email)
		if err != nil {
			return nil, err
		}
		email = &normalized
	}

	user, err := s.users.GetUser(ctx, id, email)
	if err != nil {
		key := ""
		switch {
		case id != nil:
			key = id.String()
		case email != nil:
			key = *email
		}
		return nil, &SyncError{Kind: ErrIdentityReadFailed, Entity: EntityUser, Key: key, Err: err}
	}
	return user, nil
}

// Delete removes a user. Lists of the user keep existing without an owner.
func (s *UserService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return syncErr(ErrIdentityDeleteFailed, EntityUser, id, err)
	}
	return nil
}

func (s *UserService) normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email,max=320"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}
