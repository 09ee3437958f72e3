// Package config loads the server configuration from CONNECT_ prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	connect "github.com/goliatone/go-connect"
)

// Prefix of every environment variable
const Prefix = "CONNECT_"

// BaseConfig is the root configuration
type BaseConfig struct {
	Debug    bool   `env:"DEBUG" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server      Server      `envPrefix:"SERVER_"`
	Auth        Auth        `envPrefix:"AUTH_"`
	Persistence Persistence `envPrefix:"DB_"`
	SMTP        SMTP        `envPrefix:"SMTP_"`
	Redis       Redis       `envPrefix:"REDIS_"`
	RateLimit   RateLimit   `envPrefix:"RATE_LIMIT_"`
}

type Server struct {
	Addr            string        `env:"ADDR" envDefault:":1337"`
	URL             string        `env:"URL" envDefault:"http://localhost:1337"`
	PublicURL       string        `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Auth struct {
	SigningKey                string        `env:"SIGNING_KEY"`
	TokenExpiration           int           `env:"TOKEN_EXPIRATION" envDefault:"24"`
	Issuer                    string        `env:"ISSUER" envDefault:"go-connect"`
	Audience                  []string      `env:"AUDIENCE" envSeparator:","`
	ConfirmationPath          string        `env:"CONFIRMATION_PATH" envDefault:"/auth/email-confirmation"`
	ResetPasswordPath         string        `env:"RESET_PASSWORD_PATH" envDefault:"/reset-password"`
	EmailConfirmationRedirect string        `env:"EMAIL_CONFIRMATION_REDIRECT"`
	EmailConfirmationRequired bool          `env:"EMAIL_CONFIRMATION_REQUIRED" envDefault:"true"`
	AllowedRegisterFields     []string      `env:"ALLOWED_REGISTER_FIELDS" envSeparator:"," envDefault:"full_name,phone_number"`
	ResetPasswordTTL          time.Duration `env:"RESET_PASSWORD_TTL" envDefault:"24h"`
	DefaultPhoneRegion        string        `env:"DEFAULT_PHONE_REGION" envDefault:"US"`
	UseHashid                 bool          `env:"USE_HASHID" envDefault:"false"`
	ForgotPasswordFloor       time.Duration `env:"FORGOT_PASSWORD_FLOOR" envDefault:"250ms"`
}

type Persistence struct {
	Driver       string        `env:"DRIVER" envDefault:"sqlite"`
	DSN          string        `env:"DSN" envDefault:"file:connect.db?cache=shared"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	PingTimeout  time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
	Migrate      bool          `env:"MIGRATE" envDefault:"true"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"no-reply@localhost"`
}

// Enabled reports whether an SMTP host is configured
func (s SMTP) Enabled() bool {
	return strings.TrimSpace(s.Host) != ""
}

type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Enabled reports whether a Redis address is configured
func (r Redis) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type RateLimit struct {
	Max      int           `env:"MAX" envDefault:"5"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
	FailOpen bool          `env:"FAIL_OPEN" envDefault:"true"`
}

var _ connect.Config = BaseConfig{}

// Load parses the environment and validates the result
func Load() (BaseConfig, error) {
	return LoadFrom(nil)
}

// LoadFrom parses environment from vars instead of the process environment
// when vars is not nil.
func LoadFrom(vars map[string]string) (BaseConfig, error) {
	cfg := BaseConfig{}
	opts := env.Options{Prefix: Prefix}
	if vars != nil {
		opts.Environment = vars
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c BaseConfig) Validate() error {
	return validation.Errors{
		"server": validation.ValidateStruct(&c.Server,
			validation.Field(&c.Server.Addr, validation.Required),
			validation.Field(&c.Server.URL, validation.Required, is.URL),
			validation.Field(&c.Server.PublicURL, validation.Required, is.URL),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.SigningKey, validation.Required, validation.Length(16, 0)),
			validation.Field(&c.Auth.TokenExpiration, validation.Min(1)),
			validation.Field(&c.Auth.EmailConfirmationRedirect, is.URL),
		),
		"db": validation.ValidateStruct(&c.Persistence,
			validation.Field(&c.Persistence.Driver, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&c.Persistence.DSN, validation.Required),
		),
		"rate_limit": validation.ValidateStruct(&c.RateLimit,
			validation.Field(&c.RateLimit.Max, validation.Min(1)),
		),
	}.Filter()
}

func (c BaseConfig) GetSigningKey() string {
	return c.Auth.SigningKey
}

func (c BaseConfig) GetTokenExpiration() int {
	return c.Auth.TokenExpiration
}

func (c BaseConfig) GetIssuer() string {
	return c.Auth.Issuer
}

func (c BaseConfig) GetAudience() []string {
	return c.Auth.Audience
}

func (c BaseConfig) GetServerURL() string {
	return c.Server.URL
}

func (c BaseConfig) GetPublicURL() string {
	return c.Server.PublicURL
}

func (c BaseConfig) GetConfirmationPath() string {
	return c.Auth.ConfirmationPath
}

func (c BaseConfig) GetResetPasswordPath() string {
	return c.Auth.ResetPasswordPath
}

func (c BaseConfig) GetEmailConfirmationRedirect() string {
	return c.Auth.EmailConfirmationRedirect
}

func (c BaseConfig) GetEmailConfirmationRequired() bool {
	return c.Auth.EmailConfirmationRequired
}

func (c BaseConfig) GetAllowedRegisterFields() []string {
	return c.Auth.AllowedRegisterFields
}

func (c BaseConfig) GetResetPasswordTTL() time.Duration {
	return c.Auth.ResetPasswordTTL
}

func (c BaseConfig) GetDefaultPhoneRegion() string {
	return c.Auth.DefaultPhoneRegion
}

func (c BaseConfig) GetUseHashid() bool {
	return c.Auth.UseHashid
}

func (c BaseConfig) GetForgotPasswordFloor() time.Duration {
	return c.Auth.ForgotPasswordFloor
}
