package connect

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeInvalidToken       = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeEmailNotConfirmed  = "EMAIL_NOT_CONFIRMED"
	TextCodeUserBlocked        = "USER_BLOCKED"
	TextCodeAlreadyConfirmed   = "EMAIL_ALREADY_CONFIRMED"
	TextCodeEmailTaken         = "EMAIL_OR_USERNAME_TAKEN"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeNotificationFailed = "NOTIFICATION_DELIVERY_FAILED"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeSelfConnection     = "SELF_CONNECTION"
	TextCodeConnectionExists   = "CONNECTION_EXISTS"
	TextCodeInvalidTransition  = "INVALID_CONNECTION_TRANSITION"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	TextCodeInternal           = "INTERNAL_ERROR"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeUnauthorized       = "UNAUTHORIZED"
)

// ErrValidation is the generic malformed input error. Field level details
// are attached by NewValidationError.
var ErrValidation = goerrors.New("invalid request payload", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidOrExpiredToken is returned when a confirmation or reset token
// does not resolve to a user.
var ErrInvalidOrExpiredToken = goerrors.New("invalid or expired token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials hides whether the identifier or the password was wrong
var ErrInvalidCredentials = goerrors.New("invalid identifier or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailNotConfirmed is returned on login when confirmation is required
var ErrEmailNotConfirmed = goerrors.New("your account email is not confirmed", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotConfirmed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUserBlocked is returned when an administrator blocked the account
var ErrUserBlocked = goerrors.New("your account has been blocked by an administrator", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserBlocked).
	WithCode(goerrors.CodeForbidden)

// ErrAlreadyConfirmed is returned when resending a confirmation to a confirmed account
var ErrAlreadyConfirmed = goerrors.New("email already confirmed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeAlreadyConfirmed).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailTaken is returned on registration when the email or username is in use
var ErrEmailTaken = goerrors.New("email or username are already taken", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeBadRequest)

// ErrNotificationDelivery wraps sender failures. It is logged, never returned
// from a public operation.
var ErrNotificationDelivery = goerrors.New("notification delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeNotificationFailed).
	WithCode(goerrors.CodeInternal)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSelfConnection is returned when a user requests a connection to themselves
var ErrSelfConnection = goerrors.New("requester and receiver must be different users", goerrors.CategoryValidation).
	WithTextCode(TextCodeSelfConnection).
	WithCode(goerrors.CodeBadRequest)

// ErrConnectionExists is returned when the same ordered pair already has a request
var ErrConnectionExists = goerrors.New("connection request already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeConnectionExists).
	WithCode(goerrors.CodeConflict)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid connection status transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrForbidden is returned when the caller is not allowed to act on a record
var ErrForbidden = goerrors.New("not allowed", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrTooManyRequests is returned by the rate limiter
var ErrTooManyRequests = goerrors.New("too many requests, please try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyRequests).
	WithCode(http.StatusTooManyRequests)

// ErrTokenExpired is returned when a session token is past its expiration
var ErrTokenExpired = goerrors.New("authentication token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a session token can not be parsed or verified
var ErrTokenMalformed = goerrors.New("authentication token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthorized is returned when a protected operation has no valid actor
var ErrUnauthorized = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// NewValidationError builds a validation error carrying per field messages.
func NewValidationError(err error) *goerrors.Error {
	fields := FormatValidationErrorToMap(err)
	return goerrors.New("invalid request payload", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{"errors": fields})
}

// FormatValidationErrorToMap flattens ozzo validation errors into field -> message.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["payload"] = err.Error()
	return out
}

// IsValidationError reports whether err is in the validation category
func IsValidationError(err error) bool {
	rich, ok := richError(err)
	return ok && rich.Category == goerrors.CategoryValidation
}

// IsNotFound reports whether err represents a missing record
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsRecordNotFound(err) {
		return true
	}
	rich, ok := richError(err)
	return ok && rich.Category == goerrors.CategoryNotFound
}

// HTTPStatus maps an error to the status code the HTTP layer responds with.
func HTTPStatus(err error) int {
	if rich, ok := richError(err); ok && rich.Code > 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

func richError(err error) (*goerrors.Error, bool) {
	var rich *goerrors.Error
	if err != nil && goerrors.As(err, &rich) {
		return rich, true
	}
	return nil, false
}

func unknownFieldsRule(allowed ...string) validation.RuleFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(value any) error {
		fields, _ := value.([]string)
		unknown := []string{}
		for _, f := range fields {
			if _, ok := set[f]; !ok {
				unknown = append(unknown, f)
			}
		}
		if len(unknown) == 0 {
			return nil
		}
		sort.Strings(unknown)
		return errors.New("unrecognized fields: " + strings.Join(unknown, ", "))
	}
}
