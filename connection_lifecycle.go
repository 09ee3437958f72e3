package connect

import (
	"context"

	"github.com/google/uuid"
)

// Transition is the outcome of inspecting an update payload before it is
// persisted. It is handed back to AfterUpdate by the caller.
type Transition int

const (
	// TransitionNone triggers no side effect
	TransitionNone Transition = iota
	// TransitionAccepted notifies the requester after the write
	TransitionAccepted
)

func (t Transition) String() string {
	switch t {
	case TransitionAccepted:
		return "accepted"
	default:
		return "none"
	}
}

// ConnectionReader loads a connection request with its participants
type ConnectionReader interface {
	GetWithParticipants(ctx context.Context, id uuid.UUID) (*ConnectionRequest, error)
}

// ConnectionLifecycle runs the notification side effects of the connection
// request lifecycle. Hooks never fail the write they observe.
type ConnectionLifecycle struct {
	requests  ConnectionReader
	sender    NotificationSender
	templates *Templates
	logger    Logger
}

// LifecycleOption configures ConnectionLifecycle
type LifecycleOption func(*ConnectionLifecycle)

// WithLifecycleLogger sets the logger
func WithLifecycleLogger(logger Logger) LifecycleOption {
	return func(l *ConnectionLifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLifecycleTemplates sets the templates used to build messages
func WithLifecycleTemplates(t *Templates) LifecycleOption {
	return func(l *ConnectionLifecycle) {
		if t != nil {
			l.templates = t
		}
	}
}

// NewConnectionLifecycle returns the lifecycle engine
func NewConnectionLifecycle(requests ConnectionReader, sender NotificationSender, opts ...LifecycleOption) *ConnectionLifecycle {
	l := &ConnectionLifecycle{
		requests: requests,
		sender:   sender,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	if l.templates == nil {
		l.templates = MustTemplates()
	}

	return l
}

// AfterCreate notifies the receiver of a new request
func (l *ConnectionLifecycle) AfterCreate(ctx context.Context, id uuid.UUID) {
	req, ok := l.load(ctx, id, "after_create")
	if !ok {
		return
	}

	msg, err := l.templates.ConnectionRequestedMessage(req)
	if err != nil {
		l.logger.Error("connection request notification render failed", "id", id, "error", err)
		return
	}

	l.send(ctx, msg, id, "after_create")
}

// BeforeUpdate inspects the payload and reports which side effect the
// update triggers. It does not read or write any state.
func (l *ConnectionLifecycle) BeforeUpdate(_ context.Context, update ConnectionUpdate) Transition {
	if update.Status != nil && *update.Status == ConnectionAccepted {
		return TransitionAccepted
	}
	return TransitionNone
}

// AfterUpdate notifies the requester when the update accepted the request
func (l *ConnectionLifecycle) AfterUpdate(ctx context.Context, id uuid.UUID, transition Transition) {
	if transition != TransitionAccepted {
		return
	}

	req, ok := l.load(ctx, id, "after_update")
	if !ok {
		return
	}

	msg, err := l.templates.ConnectionAcceptedMessage(req)
	if err != nil {
		l.logger.Error("connection accepted notification render failed", "id", id, "error", err)
		return
	}

	l.send(ctx, msg, id, "after_update")
}

func (l *ConnectionLifecycle) load(ctx context.Context, id uuid.UUID, hook string) (*ConnectionRequest, bool) {
	req, err := l.requests.GetWithParticipants(ctx, id)
	if err != nil {
		l.logger.Error("connection request lookup failed", "hook", hook, "id", id, "error", err)
		return nil, false
	}

	if req == nil || req.Requester == nil || req.Receiver == nil {
		l.logger.Error("connection request participants missing", "hook", hook, "id", id)
		return nil, false
	}

	return req, true
}

func (l *ConnectionLifecycle) send(ctx context.Context, msg NotificationMessage, id uuid.UUID, hook string) {
	if l.sender == nil {
		return
	}
	if err := l.sender.Send(ctx, msg); err != nil {
		l.logger.Error(ErrNotificationDelivery.Message,
			"hook", hook,
			"id", id,
			"to", msg.To,
			"error", err,
		)
	}
}
