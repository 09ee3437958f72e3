package connect

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the user repository
type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByLogin(ctx context.Context, identifier string) (*User, error)
	GetByConfirmationToken(ctx context.Context, token string) (*User, error)
	GetByResetToken(ctx context.Context, token string) (*User, error)
	GetWithRelations(ctx context.Context, id uuid.UUID, populate ...string) (*User, error)
	IsTaken(ctx context.Context, email, username string) (bool, error)

	UpdateColumns(ctx context.Context, user *User, columns ...string) (*User, error)
	UpdateColumnsTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// NewUsersRepository returns a bun backed Users repository
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	prepareUserDefaults(user)
	if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return user, nil
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.findOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// GetByLogin resolves an email (case insensitive) or a username
func (a *users) GetByLogin(ctx context.Context, identifier string) (*User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, repository.NewRecordNotFound()
	}

	if isEmail(trimmed) {
		user, err := a.findOne(ctx, "email", strings.ToLower(trimmed))
		if err == nil || !repository.IsRecordNotFound(err) {
			return user, err
		}
	}

	return a.findOne(ctx, "username", trimmed)
}

func (a *users) GetByConfirmationToken(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, repository.NewRecordNotFound()
	}
	return a.findOne(ctx, "confirmation_token", token)
}

func (a *users) GetByResetToken(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, repository.NewRecordNotFound()
	}
	return a.findOne(ctx, "reset_password_token", token)
}

// GetWithRelations loads a user with the named relations populated
func (a *users) GetWithRelations(ctx context.Context, id uuid.UUID, populate ...string) (*User, error) {
	record := &User{}
	q := a.db.NewSelect().Model(record)
	for _, rel := range populate {
		q = q.Relation(rel)
	}

	if err := q.Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

// IsTaken reports whether the email or the username already belong to a user
func (a *users) IsTaken(ctx context.Context, email, username string) (bool, error) {
	return a.db.NewSelect().
		Model((*User)(nil)).
		Where("email = ?", strings.ToLower(email)).
		WhereOr("LOWER(username) = ?", strings.ToLower(username)).
		Exists(ctx)
}

func (a *users) UpdateColumns(ctx context.Context, user *User, columns ...string) (*User, error) {
	return a.UpdateColumnsTx(ctx, a.db, user, columns...)
}

// UpdateColumnsTx persists only the given columns, updated_at is always touched
func (a *users) UpdateColumnsTx(ctx context.Context, tx bun.IDB, user *User, columns ...string) (*User, error) {
	now := time.Now().UTC()
	user.UpdatedAt = &now

	q := tx.NewUpdate().Model(user).WherePK()
	if len(columns) > 0 {
		cols := append([]string{}, columns...)
		q = q.Column(append(cols, "updated_at")...)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": user.ID.String(),
			})
	}

	return user, nil
}

func (a *users) findOne(ctx context.Context, column string, value any) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}
	return record, nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := time.Now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
