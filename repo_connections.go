package connect

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

// ConnectionRequests is the connection request repository
type ConnectionRequests interface {
	repository.Repository[*ConnectionRequest]

	Open(ctx context.Context, record *ConnectionRequest) (*ConnectionRequest, error)
	OpenTx(ctx context.Context, tx bun.IDB, record *ConnectionRequest) (*ConnectionRequest, error)
	GetWithParticipants(ctx context.Context, id uuid.UUID) (*ConnectionRequest, error)
	GetBetween(ctx context.Context, requesterID, receiverID uuid.UUID) (*ConnectionRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status ConnectionStatus) ([]*ConnectionRequest, error)
	UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *ConnectionRequest, columns ...string) (*ConnectionRequest, error)
}

type connectionRequests struct {
	repository.Repository[*ConnectionRequest]
	db *bun.DB
}

var _ ConnectionRequests = (*connectionRequests)(nil)

// NewConnectionRequestsRepository returns a bun backed ConnectionRequests repository
func NewConnectionRequestsRepository(db *bun.DB) ConnectionRequests {
	repo := repository.NewRepository[*ConnectionRequest](db, repository.ModelHandlers[*ConnectionRequest]{
		NewRecord: func() *ConnectionRequest { return &ConnectionRequest{} },
		GetID: func(r *ConnectionRequest) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *ConnectionRequest, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &connectionRequests{
		Repository: repo,
		db:         db,
	}
}

func (r *connectionRequests) Open(ctx context.Context, record *ConnectionRequest) (*ConnectionRequest, error) {
	return r.OpenTx(ctx, r.db, record)
}

// OpenTx inserts a new pending request. A second request for the same
// ordered pair fails with ErrConnectionExists.
func (r *connectionRequests) OpenTx(ctx context.Context, tx bun.IDB, record *ConnectionRequest) (*ConnectionRequest, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = ConnectionPending
	}
	now := time.Now().UTC()
	record.CreatedAt = &now
	record.UpdatedAt = &now

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConnectionExists
		}
		return nil, err
	}
	return record, nil
}

// GetWithParticipants loads a request with Requester and Receiver populated
func (r *connectionRequests) GetWithParticipants(ctx context.Context, id uuid.UUID) (*ConnectionRequest, error) {
	record := &ConnectionRequest{}
	err := r.db.NewSelect().
		Model(record).
		Relation(RelRequester).
		Relation(RelReceiver).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
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

func (r *connectionRequests) GetBetween(ctx context.Context, requesterID, receiverID uuid.UUID) (*ConnectionRequest, error) {
	record := &ConnectionRequest{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.requester_id = ?", requesterID).
		Where("?TableAlias.receiver_id = ?", receiverID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return record, nil
}

// ListForUser returns the requests the user sent or received, newest first.
// An empty status lists all of them.
func (r *connectionRequests) ListForUser(ctx context.Context, userID uuid.UUID, status ConnectionStatus) ([]*ConnectionRequest, error) {
	records := []*ConnectionRequest{}
	q := r.db.NewSelect().
		Model(&records).
		Relation(RelRequester).
		Relation(RelReceiver).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.requester_id = ?", userID).
				WhereOr("?TableAlias.receiver_id = ?", userID)
		})

	if status != "" {
		q = q.Where("?TableAlias.status = ?", status)
	}

	if err := q.OrderExpr("?TableAlias.created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateColumnsTx persists only the given columns, updated_at is always touched
func (r *connectionRequests) UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *ConnectionRequest, columns ...string) (*ConnectionRequest, error) {
	now := time.Now().UTC()
	record.UpdatedAt = &now

	q := tx.NewUpdate().Model(record).WherePK()
	if len(columns) > 0 {
		cols := append([]string{}, columns...)
		q = q.Column(append(cols, "updated_at")...)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": record.ID.String(),
			})
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
