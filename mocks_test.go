package connect_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// MockSender implements connect.NotificationSender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg connect.NotificationMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockConnectionReader implements connect.ConnectionReader
type MockConnectionReader struct {
	mock.Mock
}

func (m *MockConnectionReader) GetWithParticipants(ctx context.Context, id uuid.UUID) (*connect.ConnectionRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.ConnectionRequest), args.Error(1)
}

// MockIdentityStore implements connect.IdentityStore
type MockIdentityStore struct {
	mock.Mock
}

func (m *MockIdentityStore) FindByEmail(ctx context.Context, email string) (*connect.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.User), args.Error(1)
}

func (m *MockIdentityStore) FindByID(ctx context.Context, id uuid.UUID, populate ...string) (*connect.User, error) {
	args := m.Called(ctx, id, populate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.User), args.Error(1)
}

func (m *MockIdentityStore) Update(ctx context.Context, user *connect.User, columns ...string) (*connect.User, error) {
	args := m.Called(ctx, user, columns)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.User), args.Error(1)
}

func (m *MockIdentityStore) IssueToken(ctx context.Context, user *connect.User) (string, error) {
	args := m.Called(ctx, user)
	return args.String(0), args.Error(1)
}

// MockAccountCapability implements connect.AccountCapability
type MockAccountCapability struct {
	mock.Mock
}

func (m *MockAccountCapability) Register(ctx context.Context, input connect.RegisterInput) (*connect.AuthResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.AuthResponse), args.Error(1)
}

func (m *MockAccountCapability) ConfirmEmail(ctx context.Context, token string) (*connect.ConfirmationResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.ConfirmationResult), args.Error(1)
}

func (m *MockAccountCapability) SendEmailConfirmation(ctx context.Context, input connect.SendEmailConfirmationInput) (*connect.EmailConfirmationSent, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.EmailConfirmationSent), args.Error(1)
}

func (m *MockAccountCapability) ForgotPassword(ctx context.Context, input connect.ForgotPasswordInput) (*connect.ForgotPasswordResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.ForgotPasswordResult), args.Error(1)
}

func (m *MockAccountCapability) ResetPassword(ctx context.Context, input connect.ResetPasswordInput) (*connect.AuthResponse, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.AuthResponse), args.Error(1)
}

func (m *MockAccountCapability) Login(ctx context.Context, credentials connect.Credentials) (*connect.AuthResponse, error) {
	args := m.Called(ctx, credentials)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.AuthResponse), args.Error(1)
}

func (m *MockAccountCapability) CreateAccount(ctx context.Context, input connect.RegisterInput) (*connect.User, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connect.User), args.Error(1)
}

// recordingLogger keeps every entry so tests can assert on logged failures
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) log(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.log("DBG", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.log("INF", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log("WRN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log("ERR", msg, args) }

func (l *recordingLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []string{}
	for _, e := range l.entries {
		if len(e) > 3 && e[:3] == "ERR" {
			out = append(out, e)
		}
	}
	return out
}

type capturingSink struct {
	mu     sync.Mutex
	events []connect.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt connect.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []connect.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []connect.ActivityEventType{}
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

// testConfig implements connect.Config
type testConfig struct {
	signingKey            string
	serverURL             string
	publicURL             string
	confirmationPath      string
	resetPasswordPath     string
	redirect              string
	confirmationRequired  bool
	allowedRegisterFields []string
	resetTTL              time.Duration
	useHashid             bool
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:           "test-signing-key-0123456789",
		serverURL:            "http://api.internal:1337",
		publicURL:            "https://app.example.com",
		confirmationRequired: true,
		resetTTL:             time.Hour,
	}
}

func (c *testConfig) GetSigningKey() string                { return c.signingKey }
func (c *testConfig) GetTokenExpiration() int              { return 1 }
func (c *testConfig) GetIssuer() string                    { return "connect-test" }
func (c *testConfig) GetAudience() []string                { return nil }
func (c *testConfig) GetServerURL() string                 { return c.serverURL }
func (c *testConfig) GetPublicURL() string                 { return c.publicURL }
func (c *testConfig) GetConfirmationPath() string          { return c.confirmationPath }
func (c *testConfig) GetResetPasswordPath() string         { return c.resetPasswordPath }
func (c *testConfig) GetEmailConfirmationRedirect() string { return c.redirect }
func (c *testConfig) GetEmailConfirmationRequired() bool   { return c.confirmationRequired }
func (c *testConfig) GetAllowedRegisterFields() []string   { return c.allowedRegisterFields }
func (c *testConfig) GetResetPasswordTTL() time.Duration   { return c.resetTTL }
func (c *testConfig) GetDefaultPhoneRegion() string        { return "US" }
func (c *testConfig) GetUseHashid() bool                   { return c.useHashid }

// newTestDB returns an in-memory sqlite database with the schema applied
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	require.NoError(t, migrations.Up(context.Background(), sqldb, migrations.DialectSQLite))

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedUser stores a confirmed user with the given email and full name
func seedUser(t *testing.T, repo connect.RepositoryManager, email, fullName string) *connect.User {
	t.Helper()

	hash, err := connect.HashPassword("secret123")
	require.NoError(t, err)

	user, err := repo.Users().Register(context.Background(), &connect.User{
		Email:        email,
		Username:     email,
		FullName:     fullName,
		PasswordHash: hash,
		Confirmed:    true,
	})
	require.NoError(t, err)
	return user
}

func statusPtr(s connect.ConnectionStatus) *connect.ConnectionStatus {
	return &s
}

func strPtr(s string) *string {
	return &s
}
