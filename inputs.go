package connect

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// Payload field names
const (
	FieldEmail                = "email"
	FieldUsername             = "username"
	FieldPassword             = "password"
	FieldFullName             = "full_name"
	FieldPhoneNumber          = "phone_number"
	FieldPasswordConfirmation = "password_confirmation"
	FieldCode                 = "code"
)

// DefaultRegisterFields are the profile fields accepted on registration
// when no list is configured.
var DefaultRegisterFields = []string{FieldFullName, FieldPhoneNumber}

// RegisterInput is the registration payload
type RegisterInput struct {
	Email    string `form:"email" json:"email"`
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	FullName string `form:"full_name" json:"full_name"`
	Phone    string `form:"phone_number" json:"phone_number"`
	// Fields holds the keys present in the decoded body
	Fields []string `form:"-" json:"-"`
}

func (r *RegisterInput) recordFields(keys []string) { r.Fields = keys }

// UnmarshalJSON records which keys were sent so unknown ones can be rejected
func (r *RegisterInput) UnmarshalJSON(data []byte) error {
	type plain RegisterInput
	var p plain
	keys, err := decodeWithKeys(data, &p)
	if err != nil {
		return err
	}
	*r = RegisterInput(p)
	r.Fields = keys
	return nil
}

// Normalize trims values, lower cases the email and derives a username
// from the email when none was given.
func (r RegisterInput) Normalize() RegisterInput {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Username = getUsername(strings.TrimSpace(r.Username), r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)
	return r
}

// Validate checks the payload shape. profileFields lists the extra fields
// accepted besides email, username and password.
func (r RegisterInput) Validate(profileFields []string, region string) error {
	allowed := append([]string{FieldEmail, FieldUsername, FieldPassword}, profileFields...)
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&r.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&r.FullName, validation.Length(0, 200)),
		validation.Field(&r.Phone, validation.By(phoneNumberRule(region))),
	)
	return withUnknownFields(err, r.Fields, allowed...)
}

// Credentials is the login payload. Identifier is an email or a username.
type Credentials struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r Credentials) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// ForgotPasswordInput is the password reset trigger payload
type ForgotPasswordInput struct {
	Email  string   `form:"email" json:"email"`
	Fields []string `form:"-" json:"-"`
}

func (r *ForgotPasswordInput) recordFields(keys []string) { r.Fields = keys }

// UnmarshalJSON records which keys were sent so unknown ones can be rejected
func (r *ForgotPasswordInput) UnmarshalJSON(data []byte) error {
	type plain ForgotPasswordInput
	var p plain
	keys, err := decodeWithKeys(data, &p)
	if err != nil {
		return err
	}
	*r = ForgotPasswordInput(p)
	r.Fields = keys
	return nil
}

// Validate requires a well formed email and nothing else
func (r ForgotPasswordInput) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
	return withUnknownFields(err, r.Fields, FieldEmail)
}

// SendEmailConfirmationInput is the resend confirmation payload
type SendEmailConfirmationInput struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r SendEmailConfirmationInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

// ResetPasswordInput completes a password reset
type ResetPasswordInput struct {
	Code                 string `form:"code" json:"code"`
	Password             string `form:"password" json:"password"`
	PasswordConfirmation string `form:"password_confirmation" json:"password_confirmation"`
}

// Validate will run validation rules
func (r ResetPasswordInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(
			&r.PasswordConfirmation,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

// ConnectionCreateInput is the payload to open a connection request
type ConnectionCreateInput struct {
	Receiver string `form:"receiver" json:"receiver"`
	Message  string `form:"message" json:"message"`
}

// Validate will run validation rules
func (r ConnectionCreateInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Receiver, validation.Required, is.UUID),
		validation.Field(&r.Message, validation.Length(0, 500)),
	)
}

// ConnectionUpdate is a partial update. Nil fields are left untouched.
type ConnectionUpdate struct {
	Status  *ConnectionStatus `json:"status,omitempty"`
	Message *string           `json:"message,omitempty"`
}

// Empty reports whether the update changes nothing
func (u ConnectionUpdate) Empty() bool {
	return u.Status == nil && u.Message == nil
}

// Validate will run validation rules
func (u ConnectionUpdate) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Status, validation.By(func(value any) error {
			status, ok := value.(*ConnectionStatus)
			if !ok || status == nil {
				return nil
			}
			if !status.Valid() {
				return errors.New("must be one of pending, accepted, rejected")
			}
			return nil
		})),
		validation.Field(&u.Message, validation.Length(0, 500)),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func phoneNumberRule(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		if _, err := NormalizePhoneNumber(s, region); err != nil {
			return err
		}
		return nil
	}
}

// NormalizePhoneNumber parses number in the given default region and returns
// it formatted as E.164.
func NormalizePhoneNumber(number, region string) (string, error) {
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(number, strings.ToUpper(region))
	if err != nil {
		return "", errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("must be a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func decodeWithKeys(data []byte, target any) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func withUnknownFields(err error, present []string, allowed ...string) error {
	uerr := unknownFieldsRule(allowed...)(present)
	if uerr == nil {
		return err
	}

	out := validation.Errors{}
	if err != nil {
		var verrs validation.Errors
		if !errors.As(err, &verrs) {
			return err
		}
		for k, v := range verrs {
			out[k] = v
		}
	}
	out["payload"] = uerr
	return out
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
