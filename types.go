package connect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger takes a message followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the options the auth workflow and token service read
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetServerURL() string
	GetPublicURL() string
	GetConfirmationPath() string
	GetResetPasswordPath() string
	GetEmailConfirmationRedirect() string
	GetEmailConfirmationRequired() bool
	GetAllowedRegisterFields() []string
	GetResetPasswordTTL() time.Duration
	GetDefaultPhoneRegion() string
	GetUseHashid() bool
}

// NotificationSender delivers a single email. Errors are surfaced to the
// caller, which decides whether they matter.
type NotificationSender interface {
	Send(ctx context.Context, msg NotificationMessage) error
}

// NotificationSenderFunc adapts a function to NotificationSender.
type NotificationSenderFunc func(ctx context.Context, msg NotificationMessage) error

// Send implements NotificationSender.
func (f NotificationSenderFunc) Send(ctx context.Context, msg NotificationMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// IdentityStore is the user/credential store the auth workflow talks to
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID, populate ...string) (*User, error)
	Update(ctx context.Context, user *User, columns ...string) (*User, error)
	IssueToken(ctx context.Context, user *User) (string, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// AuthCapability is the set of auth operations exposed over HTTP.
type AuthCapability interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResponse, error)
	ConfirmEmail(ctx context.Context, token string) (*ConfirmationResult, error)
	SendEmailConfirmation(ctx context.Context, input SendEmailConfirmationInput) (*EmailConfirmationSent, error)
	ForgotPassword(ctx context.Context, input ForgotPasswordInput) (*ForgotPasswordResult, error)
	ResetPassword(ctx context.Context, input ResetPasswordInput) (*AuthResponse, error)
	Login(ctx context.Context, credentials Credentials) (*AuthResponse, error)
}

// AccountCapability extends AuthCapability with the account creation step
// so decorators can register users without triggering base side effects.
type AccountCapability interface {
	AuthCapability
	CreateAccount(ctx context.Context, input RegisterInput) (*User, error)
}

// AuthResponse is returned by register, login and reset flows
type AuthResponse struct {
	JWT  string `json:"jwt,omitempty"`
	User *User  `json:"user"`
}

// ConfirmationResult is the outcome of an email confirmation. When Redirect
// is set the HTTP layer redirects instead of rendering the user.
type ConfirmationResult struct {
	User     *User  `json:"user"`
	Redirect string `json:"-"`
}

// EmailConfirmationSent acknowledges a resend request
type EmailConfirmationSent struct {
	Email string `json:"email"`
	Sent  bool   `json:"sent"`
}

// ForgotPasswordResult is the generic acknowledgement for password reset
// requests. It is identical whether or not the account exists.
type ForgotPasswordResult struct {
	OK bool `json:"ok"`
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] CONNECT " + withAttrs(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] CONNECT " + withAttrs(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] CONNECT " + withAttrs(msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] CONNECT " + withAttrs(msg, args))
}

func withAttrs(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(msg, "\n"))
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " %v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

// NewSlogLogger adapts a slog.Logger to Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return slogLogger{l: l}
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }
