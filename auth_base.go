package connect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// DefaultConfirmationPath is the route serving email confirmations
const DefaultConfirmationPath = "/auth/email-confirmation"

// DefaultResetPasswordPath is the page that consumes reset codes
const DefaultResetPasswordPath = "/reset-password"

// DefaultResetPasswordTTL is how long a reset code stays valid
const DefaultResetPasswordTTL = 24 * time.Hour

// BaseAuth implements the account operations against the users repository.
// Links in the emails it sends point at the configured server URL.
type BaseAuth struct {
	users     Users
	tokens    TokenService
	passwords PasswordAuthenticator
	sender    NotificationSender
	templates *Templates
	cfg       Config
	logger    Logger
	activity  ActivitySink
	now       func() time.Time
	newToken  func() string
}

var _ AccountCapability = (*BaseAuth)(nil)

// BaseAuthOption configures BaseAuth
type BaseAuthOption func(*BaseAuth)

// WithBaseAuthLogger sets the logger
func WithBaseAuthLogger(logger Logger) BaseAuthOption {
	return func(b *BaseAuth) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBaseAuthTemplates sets the templates used to build messages
func WithBaseAuthTemplates(t *Templates) BaseAuthOption {
	return func(b *BaseAuth) {
		if t != nil {
			b.templates = t
		}
	}
}

// WithBaseAuthPasswords overrides the password hasher
func WithBaseAuthPasswords(p PasswordAuthenticator) BaseAuthOption {
	return func(b *BaseAuth) {
		if p != nil {
			b.passwords = p
		}
	}
}

// WithBaseAuthActivitySink sets the ActivitySink used to publish auth events.
func WithBaseAuthActivitySink(sink ActivitySink) BaseAuthOption {
	return func(b *BaseAuth) {
		b.activity = normalizeActivitySink(sink)
	}
}

// WithBaseAuthClock injects a custom clock (useful for tests).
func WithBaseAuthClock(clock func() time.Time) BaseAuthOption {
	return func(b *BaseAuth) {
		if clock != nil {
			b.now = clock
		}
	}
}

// WithBaseAuthTokenGenerator overrides how confirmation and reset tokens are made
func WithBaseAuthTokenGenerator(gen func() string) BaseAuthOption {
	return func(b *BaseAuth) {
		if gen != nil {
			b.newToken = gen
		}
	}
}

// NewBaseAuth returns the base account capability
func NewBaseAuth(users Users, tokens TokenService, sender NotificationSender, cfg Config, opts ...BaseAuthOption) *BaseAuth {
	b := &BaseAuth{
		users:     users,
		tokens:    tokens,
		passwords: BcryptAuthenticator{},
		sender:    sender,
		cfg:       cfg,
		logger:    defLogger{},
		activity:  noopActivitySink{},
		now:       time.Now,
		newToken:  NewSecureToken,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	if b.templates == nil {
		b.templates = MustTemplates()
	}

	return b
}

// CreateAccount validates the payload and stores the user without sending
// anything.
func (b *BaseAuth) CreateAccount(ctx context.Context, input RegisterInput) (*User, error) {
	input = input.Normalize()

	profileFields := b.cfg.GetAllowedRegisterFields()
	if len(profileFields) == 0 {
		profileFields = DefaultRegisterFields
	}

	if err := input.Validate(profileFields, b.cfg.GetDefaultPhoneRegion()); err != nil {
		return nil, NewValidationError(err)
	}

	taken, err := b.users.IsTaken(ctx, input.Email, input.Username)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to check account uniqueness")
	}
	if taken {
		return nil, ErrEmailTaken
	}

	hash, err := b.passwords.HashPassword(input.Password)
	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, errors.Wrap(richErr, errors.CategoryValidation, "invalid password provided")
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:        input.Email,
		Username:     input.Username,
		PasswordHash: hash,
		Confirmed:    !b.cfg.GetEmailConfirmationRequired(),
	}

	if slices.Contains(profileFields, FieldFullName) {
		user.FullName = input.FullName
	}

	if slices.Contains(profileFields, FieldPhoneNumber) && input.Phone != "" {
		if user.Phone, err = NormalizePhoneNumber(input.Phone, b.cfg.GetDefaultPhoneRegion()); err != nil {
			return nil, NewValidationError(err)
		}
	}

	if !user.Confirmed {
		user.ConfirmationToken = b.newToken()
	}

	if b.cfg.GetUseHashid() {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	if user, err = b.users.Register(ctx, user); err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "could not create user")
	}

	recordActivity(ctx, b.activity, b.logger, b.now, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.ID.String(),
	})

	return user, nil
}

// Register creates the account and sends the confirmation email with a
// link to the server URL.
func (b *BaseAuth) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	user, err := b.CreateAccount(ctx, input)
	if err != nil {
		return nil, err
	}

	if !user.Confirmed {
		link := BuildLink(b.cfg.GetServerURL(), DefaultConfirmationPath, url.Values{
			"confirmation": {user.ConfirmationToken},
		})
		b.sendTemplate(ctx, user, link, TemplateEmailConfirmation)
		return &AuthResponse{User: user}, nil
	}

	jwt, err := b.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{JWT: jwt, User: user}, nil
}

// ConfirmEmail marks the owner of token as confirmed. The result carries
// the configured redirect.
func (b *BaseAuth) ConfirmEmail(ctx context.Context, token string) (*ConfirmationResult, error) {
	user, err := b.users.GetByConfirmationToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user by confirmation token")
	}

	user.Confirmed = true
	user.ConfirmationToken = ""
	if user, err = b.users.UpdateColumns(ctx, user, "confirmed", "confirmation_token"); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to confirm email")
	}

	recordActivity(ctx, b.activity, b.logger, b.now, ActivityEvent{
		EventType: ActivityEventEmailConfirmed,
		UserID:    user.ID.String(),
	})

	return &ConfirmationResult{
		User:     user,
		Redirect: b.cfg.GetEmailConfirmationRedirect(),
	}, nil
}

// SendEmailConfirmation resends the confirmation link
func (b *BaseAuth) SendEmailConfirmation(ctx context.Context, input SendEmailConfirmationInput) (*EmailConfirmationSent, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	user, err := b.users.GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return &EmailConfirmationSent{Email: email, Sent: true}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user by email")
	}

	if user.Blocked {
		return nil, ErrUserBlocked
	}

	if user.Confirmed {
		return nil, ErrAlreadyConfirmed
	}

	if user.ConfirmationToken == "" {
		user.ConfirmationToken = b.newToken()
		if user, err = b.users.UpdateColumns(ctx, user, "confirmation_token"); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to store confirmation token")
		}
	}

	link := BuildLink(b.cfg.GetServerURL(), DefaultConfirmationPath, url.Values{
		"confirmation": {user.ConfirmationToken},
	})
	b.sendTemplate(ctx, user, link, TemplateEmailConfirmation)

	return &EmailConfirmationSent{Email: email, Sent: true}, nil
}

// ForgotPassword stores a reset code and emails it. Unknown and blocked
// accounts get the same answer as everyone else.
func (b *BaseAuth) ForgotPassword(ctx context.Context, input ForgotPasswordInput) (*ForgotPasswordResult, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	user, err := b.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if IsNotFound(err) {
			return &ForgotPasswordResult{OK: true}, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user by email")
	}

	if user.Blocked {
		return &ForgotPasswordResult{OK: true}, nil
	}

	now := b.now()
	user.ResetPasswordToken = b.newToken()
	user.ResetPasswordSentAt = &now
	if user, err = b.users.UpdateColumns(ctx, user, "reset_password_token", "reset_password_sent_at"); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to store reset token")
	}

	link := BuildLink(b.cfg.GetServerURL(), resetPath(b.cfg), url.Values{
		"code": {user.ResetPasswordToken},
	})
	b.sendTemplate(ctx, user, link, TemplateResetPassword)

	return &ForgotPasswordResult{OK: true}, nil
}

// ResetPassword consumes a reset code and signs the user in
func (b *BaseAuth) ResetPassword(ctx context.Context, input ResetPasswordInput) (*AuthResponse, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	user, err := b.users.GetByResetToken(ctx, strings.TrimSpace(input.Code))
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user by reset token")
	}

	ttl := b.cfg.GetResetPasswordTTL()
	if ttl <= 0 {
		ttl = DefaultResetPasswordTTL
	}

	if user.ResetPasswordSentAt == nil || b.now().Sub(*user.ResetPasswordSentAt) > ttl {
		return nil, ErrInvalidOrExpiredToken
	}

	if user.Blocked {
		return nil, ErrUserBlocked
	}

	hash, err := b.passwords.HashPassword(input.Password)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid new password provided")
	}

	user.PasswordHash = hash
	user.ResetPasswordToken = ""
	user.ResetPasswordSentAt = nil
	user.Confirmed = true
	user.ConfirmationToken = ""

	user, err = b.users.UpdateColumns(ctx, user,
		"password_hash",
		"reset_password_token",
		"reset_password_sent_at",
		"confirmed",
		"confirmation_token",
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to update user password in database")
	}

	recordActivity(ctx, b.activity, b.logger, b.now, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		UserID:    user.ID.String(),
	})

	jwt, err := b.tokens.Generate(user)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{JWT: jwt, User: user}, nil
}

// Login verifies the credentials. The identifier is an email or a username.
func (b *BaseAuth) Login(ctx context.Context, credentials Credentials) (*AuthResponse, error) {
	if err := credentials.Validate(); err != nil {
		return nil, NewValidationError(err)
	}

	user, err := b.users.GetByLogin(ctx, credentials.Identifier)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during login")
	}

	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := b.passwords.ComparePasswordAndHash(credentials.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if b.cfg.GetEmailConfirmationRequired() && !user.Confirmed {
		return nil, ErrEmailNotConfirmed
	}

	if user.Blocked {
		return nil, ErrUserBlocked
	}

	jwt, err := b.tokens.Generate(user)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, b.activity, b.logger, b.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    user.ID.String(),
	})

	return &AuthResponse{JWT: jwt, User: user}, nil
}

func (b *BaseAuth) sendTemplate(ctx context.Context, user *User, link, template string) {
	sendAuthEmail(ctx, b.sender, b.templates, b.logger, user, link, template)
}

// sendAuthEmail renders and sends an account email. Failures are logged.
func sendAuthEmail(ctx context.Context, sender NotificationSender, templates *Templates, logger Logger, user *User, link, template string) {
	if sender == nil {
		return
	}

	var (
		msg NotificationMessage
		err error
	)

	switch template {
	case TemplateResetPassword:
		msg, err = templates.ResetPasswordMessage(user, link)
	default:
		msg, err = templates.EmailConfirmationMessage(user, link)
	}

	if err != nil {
		logger.Error("auth email render failed", "template", template, "error", err)
		return
	}

	if err := sender.Send(ctx, msg); err != nil {
		logger.Error(ErrNotificationDelivery.Message, "template", template, "to", msg.To, "error", err)
	}
}

// BuildLink joins base and path and appends query
func BuildLink(base, path string, query url.Values) string {
	link := strings.TrimRight(base, "/")
	if path != "" {
		link += "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		link += "?" + query.Encode()
	}
	return link
}

// NewSecureToken returns 32 random bytes hex encoded
func NewSecureToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func resetPath(cfg Config) string {
	if p := cfg.GetResetPasswordPath(); p != "" {
		return p
	}
	return DefaultResetPasswordPath
}
