package connect

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
	"time"
)

// DefaultForgotPasswordFloor is the least time a forgot password request
// takes once its payload is valid.
const DefaultForgotPasswordFloor = 250 * time.Millisecond

// WorkflowAuth decorates an AccountCapability. Confirmation and reset links
// are built from the public URL, confirmation answers with the user instead
// of a redirect, and login responses carry the user's connections.
type WorkflowAuth struct {
	base      AccountCapability
	identity  IdentityStore
	sender    NotificationSender
	templates *Templates
	cfg       Config
	logger    Logger
	activity  ActivitySink
	now       func() time.Time
	newToken  func() string
	floor     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

var _ AuthCapability = (*WorkflowAuth)(nil)

// WorkflowOption configures WorkflowAuth
type WorkflowOption func(*WorkflowAuth)

// WithWorkflowLogger sets the logger
func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *WorkflowAuth) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkflowTemplates sets the templates used to build messages
func WithWorkflowTemplates(t *Templates) WorkflowOption {
	return func(w *WorkflowAuth) {
		if t != nil {
			w.templates = t
		}
	}
}

// WithWorkflowActivitySink sets the ActivitySink used to publish auth events.
func WithWorkflowActivitySink(sink ActivitySink) WorkflowOption {
	return func(w *WorkflowAuth) {
		w.activity = normalizeActivitySink(sink)
	}
}

// WithWorkflowClock injects a custom clock (useful for tests).
func WithWorkflowClock(clock func() time.Time) WorkflowOption {
	return func(w *WorkflowAuth) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithWorkflowTokenGenerator overrides how confirmation and reset tokens are made
func WithWorkflowTokenGenerator(gen func() string) WorkflowOption {
	return func(w *WorkflowAuth) {
		if gen != nil {
			w.newToken = gen
		}
	}
}

// WithWorkflowForgotPasswordFloor sets how long forgot password requests
// are held so hits, misses and blocked accounts answer alike. Zero disables it.
func WithWorkflowForgotPasswordFloor(floor time.Duration) WorkflowOption {
	return func(w *WorkflowAuth) {
		if floor >= 0 {
			w.floor = floor
		}
	}
}

// WithWorkflowSleeper overrides how the forgot password floor waits (useful for tests).
func WithWorkflowSleeper(sleep func(ctx context.Context, d time.Duration) error) WorkflowOption {
	return func(w *WorkflowAuth) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// NewWorkflowAuth wraps base
func NewWorkflowAuth(base AccountCapability, identity IdentityStore, sender NotificationSender, cfg Config, opts ...WorkflowOption) *WorkflowAuth {
	w := &WorkflowAuth{
		base:     base,
		identity: identity,
		sender:   sender,
		cfg:      cfg,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		newToken: NewSecureToken,
		floor:    DefaultForgotPasswordFloor,
		sleep:    sleepContext,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	if w.templates == nil {
		w.templates = MustTemplates()
	}

	return w
}

// Register creates the account through the base capability and sends the
// confirmation email with a link to the public URL. Delivery failures do
// not fail the registration.
func (w *WorkflowAuth) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	user, err := w.base.CreateAccount(ctx, input)
	if err != nil {
		return nil, err
	}

	if user.ConfirmationToken != "" {
		w.sendTemplate(ctx, user, w.ConfirmationURL(user.ConfirmationToken), TemplateEmailConfirmation)
	}

	if w.cfg.GetEmailConfirmationRequired() {
		return &AuthResponse{User: user}, nil
	}

	jwt, err := w.identity.IssueToken(ctx, user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{JWT: jwt, User: user}, nil
}

// ConfirmEmail confirms through the base capability and drops the redirect
func (w *WorkflowAuth) ConfirmEmail(ctx context.Context, token string) (*ConfirmationResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	res, err := w.base.ConfirmEmail(ctx, token)
	if err != nil {
		return nil, err
	}

	return &ConfirmationResult{User: res.User}, nil
}

// SendEmailConfirmation resends the confirmation link built from the public URL
func (w *WorkflowAuth) SendEmailConfirmation(ctx context.Context, input SendEmailConfirmationInput) (*EmailConfirmationSent, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	user, err := w.identity.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return &EmailConfirmationSent{Email: email, Sent: true}, nil
		}
		return nil, err
	}

	if user.Blocked {
		return nil, ErrUserBlocked
	}

	if user.Confirmed {
		return nil, ErrAlreadyConfirmed
	}

	if user.ConfirmationToken == "" {
		user.ConfirmationToken = w.newToken()
		if user, err = w.identity.Update(ctx, user, "confirmation_token"); err != nil {
			return nil, err
		}
	}

	w.sendTemplate(ctx, user, w.ConfirmationURL(user.ConfirmationToken), TemplateEmailConfirmation)

	return &EmailConfirmationSent{Email: email, Sent: true}, nil
}

// ForgotPassword validates the payload before any lookup, then stores a
// reset code and emails the reset link. Missing and blocked accounts get
// the same generic answer and no email.
func (w *WorkflowAuth) ForgotPassword(ctx context.Context, input ForgotPasswordInput) (*ForgotPasswordResult, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	defer w.holdUntilFloor(ctx, time.Now())

	email := strings.ToLower(strings.TrimSpace(input.Email))
	user, err := w.identity.FindByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			w.logger.Debug("forgot password for unknown email")
			return &ForgotPasswordResult{OK: true}, nil
		}
		return nil, err
	}

	if user.Blocked {
		w.logger.Debug("forgot password for blocked user", "user_id", user.ID)
		return &ForgotPasswordResult{OK: true}, nil
	}

	now := w.now()
	user.ResetPasswordToken = w.newToken()
	user.ResetPasswordSentAt = &now

	if user, err = w.identity.Update(ctx, user, "reset_password_token", "reset_password_sent_at"); err != nil {
		return nil, err
	}

	w.sendTemplate(ctx, user, w.ResetPasswordURL(user.ResetPasswordToken), TemplateResetPassword)

	recordActivity(ctx, w.activity, w.logger, w.now, ActivityEvent{
		EventType: ActivityEventPasswordResetSent,
		UserID:    user.ID.String(),
	})

	return &ForgotPasswordResult{OK: true}, nil
}

// ResetPassword is delegated unchanged
func (w *WorkflowAuth) ResetPassword(ctx context.Context, input ResetPasswordInput) (*AuthResponse, error) {
	return w.base.ResetPassword(ctx, input)
}

// Login authenticates through the base capability and replaces the user in
// the response with one carrying sent and received connection requests.
func (w *WorkflowAuth) Login(ctx context.Context, credentials Credentials) (*AuthResponse, error) {
	res, err := w.base.Login(ctx, credentials)
	if err != nil {
		return nil, err
	}

	if res == nil || res.User == nil {
		return res, nil
	}

	user, err := w.identity.FindByID(ctx, res.User.ID, RelConnectionsSent, RelConnectionsReceived)
	if err != nil {
		w.logger.Error("login could not load user connections", "user_id", res.User.ID, "error", err)
		return res, nil
	}

	if user.ConnectionsSent == nil {
		user.ConnectionsSent = []*ConnectionRequest{}
	}
	if user.ConnectionsReceived == nil {
		user.ConnectionsReceived = []*ConnectionRequest{}
	}

	return &AuthResponse{JWT: res.JWT, User: user}, nil
}

// holdUntilFloor waits out what is left of the floor since start, plus a
// small random jitter.
func (w *WorkflowAuth) holdUntilFloor(ctx context.Context, start time.Time) {
	if w.floor <= 0 {
		return
	}

	wait := w.floor - time.Since(start) + jitter(w.floor/8)
	if wait <= 0 {
		return
	}

	if err := w.sleep(ctx, wait); err != nil {
		w.logger.Debug("forgot password floor interrupted", "error", err)
	}
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ConfirmationURL is the link sent in confirmation emails
func (w *WorkflowAuth) ConfirmationURL(token string) string {
	path := w.cfg.GetConfirmationPath()
	if path == "" {
		path = DefaultConfirmationPath
	}
	return BuildLink(w.cfg.GetPublicURL(), path, url.Values{"confirmation": {token}})
}

// ResetPasswordURL is the link sent in reset emails
func (w *WorkflowAuth) ResetPasswordURL(token string) string {
	return BuildLink(w.cfg.GetPublicURL(), resetPath(w.cfg), url.Values{"code": {token}})
}

func (w *WorkflowAuth) sendTemplate(ctx context.Context, user *User, link, template string) {
	sendAuthEmail(ctx, w.sender, w.templates, w.logger, user, link, template)
}
