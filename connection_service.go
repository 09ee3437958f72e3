package connect

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionHooks are invoked around connection request writes
type ConnectionHooks interface {
	AfterCreate(ctx context.Context, id uuid.UUID)
	BeforeUpdate(ctx context.Context, update ConnectionUpdate) Transition
	AfterUpdate(ctx context.Context, id uuid.UUID, transition Transition)
}

// ConnectionService is the write and read path for connection requests
type ConnectionService struct {
	repo        RepositoryManager
	hooks       ConnectionHooks
	logger      Logger
	activity    ActivitySink
	now         func() time.Time
	transitions map[ConnectionStatus]map[ConnectionStatus]struct{}
}

// ConnectionServiceOption configures ConnectionService
type ConnectionServiceOption func(*ConnectionService)

// WithConnectionServiceLogger sets the logger
func WithConnectionServiceLogger(logger Logger) ConnectionServiceOption {
	return func(s *ConnectionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConnectionServiceActivitySink sets the ActivitySink used to publish lifecycle events.
func WithConnectionServiceActivitySink(sink ActivitySink) ConnectionServiceOption {
	return func(s *ConnectionService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithConnectionServiceClock injects a custom clock (useful for tests).
func WithConnectionServiceClock(clock func() time.Time) ConnectionServiceOption {
	return func(s *ConnectionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewConnectionService returns a ConnectionService. hooks is usually a
// *ConnectionLifecycle.
func NewConnectionService(repo RepositoryManager, hooks ConnectionHooks, opts ...ConnectionServiceOption) *ConnectionService {
	s := &ConnectionService{
		repo:     repo,
		hooks:    hooks,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		transitions: map[ConnectionStatus]map[ConnectionStatus]struct{}{
			ConnectionPending: {
				ConnectionAccepted: {},
				ConnectionRejected: {},
			},
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Create opens a pending request from requesterID to the input receiver and
// notifies the receiver.
func (s *ConnectionService) Create(ctx context.Context, requesterID uuid.UUID, input ConnectionCreateInput) (*ConnectionRequest, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	receiverID, err := uuid.Parse(input.Receiver)
	if err != nil {
		return nil, NewValidationError(err)
	}

	if requesterID == receiverID {
		return nil, ErrSelfConnection
	}

	for _, id := range []uuid.UUID{requesterID, receiverID} {
		if _, err := s.repo.Users().GetWithRelations(ctx, id); err != nil {
			if IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve connection participant")
		}
	}

	if _, err := s.repo.ConnectionRequests().GetBetween(ctx, requesterID, receiverID); err == nil {
		return nil, ErrConnectionExists
	} else if !IsNotFound(err) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check existing connection request")
	}

	record := &ConnectionRequest{
		RequesterID: requesterID,
		ReceiverID:  receiverID,
		Status:      ConnectionPending,
		Message:     input.Message,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = s.repo.ConnectionRequests().OpenTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, s.wrapWriteError(err, "failed to create connection request")
	}

	if s.hooks != nil {
		s.hooks.AfterCreate(ctx, record.ID)
	}

	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventConnectionRequested,
		ActorID:   requesterID.String(),
		UserID:    receiverID.String(),
		ObjectID:  record.ID.String(),
		ToStatus:  ConnectionPending,
	})

	return record, nil
}

// Update applies a partial update on behalf of actorID. Only the receiver
// may change the status and only the requester may edit the message.
// Status changes on accepted or rejected requests are ignored.
func (s *ConnectionService) Update(ctx context.Context, actorID, id uuid.UUID, update ConnectionUpdate) (*ConnectionRequest, error) {
	if err := update.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !current.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	if update.Status != nil && *update.Status == current.Status {
		update.Status = nil
	}

	from := current.Status
	columns := []string{}

	if update.Status != nil && actorID != current.ReceiverID {
		return nil, ErrForbidden
	}

	if update.Status != nil && from.Terminal() {
		s.logger.Info("connection request status is final, ignoring status change",
			"id", id,
			"from", from,
			"to", *update.Status,
		)
		update.Status = nil
	}

	if update.Status != nil {
		if err := s.checkTransition(from, *update.Status); err != nil {
			s.logger.Warn("connection request transition rejected",
				"id", id,
				"from", from,
				"to", *update.Status,
				"error", err,
			)
			return nil, err
		}
		current.Status = *update.Status
		columns = append(columns, "status")
	}

	if update.Message != nil {
		if actorID != current.RequesterID {
			return nil, ErrForbidden
		}
		current.Message = *update.Message
		columns = append(columns, "message")
	}

	if len(columns) == 0 {
		return current, nil
	}

	transition := TransitionNone
	if s.hooks != nil {
		transition = s.hooks.BeforeUpdate(ctx, update)
	}

	record := &ConnectionRequest{
		ID:          current.ID,
		RequesterID: current.RequesterID,
		ReceiverID:  current.ReceiverID,
		Status:      current.Status,
		Message:     current.Message,
		CreatedAt:   current.CreatedAt,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.repo.ConnectionRequests().UpdateColumnsTx(ctx, tx, record, columns...)
		return err
	})
	if err != nil {
		return nil, s.wrapWriteError(err, "failed to update connection request")
	}
	current.UpdatedAt = record.UpdatedAt

	if s.hooks != nil {
		s.hooks.AfterUpdate(ctx, id, transition)
	}

	if from != current.Status {
		recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
			EventType:  ActivityEventConnectionUpdated,
			ActorID:    actorID.String(),
			UserID:     current.RequesterID.String(),
			ObjectID:   id.String(),
			FromStatus: from,
			ToStatus:   current.Status,
		})
	}

	return current, nil
}

// Get returns a request with its participants. Only participants may read it.
func (s *ConnectionService) Get(ctx context.Context, actorID, id uuid.UUID) (*ConnectionRequest, error) {
	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !record.IsParticipant(actorID) {
		return nil, ErrForbidden
	}

	return record, nil
}

// ListForUser returns the requests sent or received by userID, optionally
// filtered by status.
func (s *ConnectionService) ListForUser(ctx context.Context, userID uuid.UUID, status ConnectionStatus) ([]*ConnectionRequest, error) {
	if status != "" && !status.Valid() {
		return nil, NewValidationError(errors.New("unknown status "+string(status), errors.CategoryValidation))
	}

	records, err := s.repo.ConnectionRequests().ListForUser(ctx, userID, status)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list connection requests")
	}
	return records, nil
}

func (s *ConnectionService) checkTransition(from, to ConnectionStatus) error {
	if allowed, ok := s.transitions[from]; ok {
		if _, exists := allowed[to]; exists {
			return nil
		}
	}
	return ErrInvalidTransition
}

func (s *ConnectionService) load(ctx context.Context, id uuid.UUID) (*ConnectionRequest, error) {
	record, err := s.repo.ConnectionRequests().GetWithParticipants(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve connection request")
	}
	return record, nil
}

func (s *ConnectionService) wrapWriteError(err error, msg string) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return errors.Wrap(err, errors.CategoryInternal, msg)
}
