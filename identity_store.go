package connect

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// UserStore is the subset of Users the identity store needs
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetWithRelations(ctx context.Context, id uuid.UUID, populate ...string) (*User, error)
	UpdateColumns(ctx context.Context, user *User, columns ...string) (*User, error)
}

type identityStore struct {
	users  UserStore
	tokens TokenService
}

var _ IdentityStore = (*identityStore)(nil)

// NewIdentityStore returns an IdentityStore backed by the users repository
// and the token service.
func NewIdentityStore(users UserStore, tokens TokenService) IdentityStore {
	return &identityStore{
		users:  users,
		tokens: tokens,
	}
}

func (s *identityStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user by email")
	}
	return user, nil
}

func (s *identityStore) FindByID(ctx context.Context, id uuid.UUID, populate ...string) (*User, error) {
	user, err := s.users.GetWithRelations(ctx, id, populate...)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user")
	}
	return user, nil
}

func (s *identityStore) Update(ctx context.Context, user *User, columns ...string) (*User, error) {
	updated, err := s.users.UpdateColumns(ctx, user, columns...)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to update user")
	}
	return updated, nil
}

func (s *identityStore) IssueToken(ctx context.Context, user *User) (string, error) {
	return s.tokens.Generate(user)
}
