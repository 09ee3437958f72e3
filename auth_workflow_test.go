package connect_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	connect "github.com/goliatone/go-connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newWorkflow(f *authFixture, opts ...connect.WorkflowOption) *connect.WorkflowAuth {
	counter := 0
	defaults := []connect.WorkflowOption{
		connect.WithWorkflowLogger(f.logger),
		connect.WithWorkflowActivitySink(f.sink),
		connect.WithWorkflowTokenGenerator(func() string {
			counter++
			return fmt.Sprintf("wf-%d", counter)
		}),
		connect.WithWorkflowClock(func() time.Time { return f.now }),
		connect.WithWorkflowSleeper(func(_ context.Context, d time.Duration) error {
			f.waits = append(f.waits, d)
			return nil
		}),
	}
	identity := connect.NewIdentityStore(f.repo.Users(), f.tokens)
	return connect.NewWorkflowAuth(f.base, identity, f.outbox, f.cfg, append(defaults, opts...)...)
}

func TestWorkflowAuth_RegisterLinksToPublicURL(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.cfg.confirmationPath = "/confirm"
	wf := newWorkflow(f)

	res, err := wf.Register(context.Background(), connect.RegisterInput{
		Email:    "jane@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Empty(t, res.JWT)

	msgs := f.outbox.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "https://app.example.com/confirm?confirmation=token-1")
	assert.NotContains(t, msgs[0].Text, "api.internal")
}

func TestWorkflowAuth_RegisterSendFailureIsNotFatal(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.outbox.FailWith(errors.New("smtp down"))
	wf := newWorkflow(f)

	res, err := wf.Register(context.Background(), connect.RegisterInput{
		Email:    "jane@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", res.User.Email)
	assert.NotEmpty(t, f.logger.Errors())

	stored, err := f.repo.Users().GetByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.False(t, stored.Confirmed)
}

func TestWorkflowAuth_RegisterWithoutConfirmationIssuesToken(t *testing.T) {
	cfg := newTestConfig()
	cfg.confirmationRequired = false
	f := newAuthFixture(t, cfg)
	wf := newWorkflow(f)

	res, err := wf.Register(context.Background(), connect.RegisterInput{
		Email:    "jane@example.com",
		Password: "secret123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JWT)
	assert.Empty(t, f.outbox.Messages())
}

func TestWorkflowAuth_ConfirmEmailReturnsUser(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.cfg.redirect = "https://app.example.com/welcome"
	wf := newWorkflow(f)
	ctx := context.Background()

	_, err := wf.Register(ctx, connect.RegisterInput{Email: "jane@example.com", Password: "secret123"})
	require.NoError(t, err)

	res, err := wf.ConfirmEmail(ctx, "token-1")
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.True(t, res.User.Confirmed)
	assert.Empty(t, res.Redirect)

	_, err = wf.ConfirmEmail(ctx, "token-1")
	assert.ErrorIs(t, err, connect.ErrInvalidOrExpiredToken)

	_, err = wf.ConfirmEmail(ctx, "  ")
	assert.ErrorIs(t, err, connect.ErrInvalidOrExpiredToken)
}

func TestWorkflowAuth_SendEmailConfirmation(t *testing.T) {
	f := newAuthFixture(t, nil)
	wf := newWorkflow(f)
	ctx := context.Background()

	_, err := wf.Register(ctx, connect.RegisterInput{Email: "jane@example.com", Password: "secret123"})
	require.NoError(t, err)

	sent, err := wf.SendEmailConfirmation(ctx, connect.SendEmailConfirmationInput{Email: "JANE@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", sent.Email)

	msgs := f.outbox.To("jane@example.com")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Text, "https://app.example.com/auth/email-confirmation?confirmation=token-1")

	_, err = wf.SendEmailConfirmation(ctx, connect.SendEmailConfirmationInput{Email: "bad"})
	assert.True(t, connect.IsValidationError(err))
}

func TestWorkflowAuth_ForgotPasswordSendsResetLink(t *testing.T) {
	f := newAuthFixture(t, nil)
	f.cfg.resetPasswordPath = "/account/reset"
	wf := newWorkflow(f)
	ctx := context.Background()
	seedUser(t, f.repo, "jane@example.com", "Jane")

	res, err := wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: "Jane@Example.com"})
	require.NoError(t, err)
	assert.True(t, res.OK)

	msgs := f.outbox.To("jane@example.com")
	require.Len(t, msgs, 1)
	assert.Equal(t, connect.SubjectResetPassword, msgs[0].Subject)
	assert.Contains(t, msgs[0].Text, "https://app.example.com/account/reset?code=wf-1")

	auth, err := wf.ResetPassword(ctx, connect.ResetPasswordInput{
		Code:                 "wf-1",
		Password:             "newsecret",
		PasswordConfirmation: "newsecret",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, auth.JWT)
	assert.Contains(t, f.sink.Types(), connect.ActivityEventPasswordResetSent)
}

func TestWorkflowAuth_ForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	f := newAuthFixture(t, nil)
	wf := newWorkflow(f)
	ctx := context.Background()

	blocked := seedUser(t, f.repo, "blocked@example.com", "")
	blocked.Blocked = true
	_, err := f.repo.Users().UpdateColumns(ctx, blocked, "blocked")
	require.NoError(t, err)

	ghost, err := wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: "ghost@example.com"})
	require.NoError(t, err)

	banned, err := wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: "blocked@example.com"})
	require.NoError(t, err)

	assert.Equal(t, ghost, banned)
	assert.Empty(t, f.outbox.Messages())

	stored, err := f.repo.Users().GetByEmail(ctx, "blocked@example.com")
	require.NoError(t, err)
	assert.Empty(t, stored.ResetPasswordToken)
}

func TestWorkflowAuth_ForgotPasswordHoldsEveryOutcomeToFloor(t *testing.T) {
	f := newAuthFixture(t, nil)
	floor := 5 * time.Second
	wf := newWorkflow(f, connect.WithWorkflowForgotPasswordFloor(floor))
	ctx := context.Background()

	seedUser(t, f.repo, "jane@example.com", "Jane")
	blocked := seedUser(t, f.repo, "blocked@example.com", "")
	blocked.Blocked = true
	_, err := f.repo.Users().UpdateColumns(ctx, blocked, "blocked")
	require.NoError(t, err)

	for _, email := range []string{"jane@example.com", "ghost@example.com", "blocked@example.com"} {
		_, err := wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: email})
		require.NoError(t, err)
	}

	require.Len(t, f.waits, 3)
	for _, d := range f.waits {
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, floor+floor/8)
	}

	_, err = wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: "bad"})
	assert.True(t, connect.IsValidationError(err))
	assert.Len(t, f.waits, 3)
}

func TestWorkflowAuth_ForgotPasswordFloorDisabled(t *testing.T) {
	f := newAuthFixture(t, nil)
	wf := newWorkflow(f, connect.WithWorkflowForgotPasswordFloor(0))

	_, err := wf.ForgotPassword(context.Background(), connect.ForgotPasswordInput{Email: "ghost@example.com"})
	require.NoError(t, err)
	assert.Empty(t, f.waits)
}

func TestWorkflowAuth_ForgotPasswordFloorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	identity := new(MockIdentityStore)
	identity.On("FindByEmail", mock.Anything, "ghost@example.com").Return(nil, connect.ErrNotFound)

	wf := connect.NewWorkflowAuth(new(MockAccountCapability), identity, new(MockSender), newTestConfig(),
		connect.WithWorkflowForgotPasswordFloor(time.Hour),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := wf.ForgotPassword(ctx, connect.ForgotPasswordInput{Email: "ghost@example.com"})
		assert.NoError(t, err)
		assert.True(t, res.OK)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("forgot password kept waiting after the context was cancelled")
	}
}

func TestWorkflowAuth_ForgotPasswordRejectsUnknownFieldsBeforeLookup(t *testing.T) {
	identity := new(MockIdentityStore)
	sender := new(MockSender)
	base := new(MockAccountCapability)

	wf := connect.NewWorkflowAuth(base, identity, sender, newTestConfig())

	_, err := wf.ForgotPassword(context.Background(), connect.ForgotPasswordInput{
		Email:  "jane@example.com",
		Fields: []string{"email", "role"},
	})
	require.Error(t, err)
	assert.True(t, connect.IsValidationError(err))
	assert.Equal(t, "unrecognized fields: role", validationFields(t, err)["payload"])

	_, err = wf.ForgotPassword(context.Background(), connect.ForgotPasswordInput{})
	assert.True(t, connect.IsValidationError(err))

	identity.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestWorkflowAuth_ForgotPasswordLookupError(t *testing.T) {
	identity := new(MockIdentityStore)
	identity.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, assert.AnError)

	wf := connect.NewWorkflowAuth(new(MockAccountCapability), identity, new(MockSender), newTestConfig(),
		connect.WithWorkflowForgotPasswordFloor(0),
	)

	_, err := wf.ForgotPassword(context.Background(), connect.ForgotPasswordInput{Email: "jane@example.com"})
	assert.ErrorIs(t, err, assert.AnError)
	identity.AssertExpectations(t)
}

func TestWorkflowAuth_LoginCarriesConnections(t *testing.T) {
	f := newAuthFixture(t, nil)
	wf := newWorkflow(f)
	ctx := context.Background()

	alice := seedUser(t, f.repo, "alice@example.com", "Alice")
	bob := seedUser(t, f.repo, "bob@example.com", "Bob")
	carol := seedUser(t, f.repo, "carol@example.com", "Carol")

	_, err := f.repo.ConnectionRequests().Open(ctx, &connect.ConnectionRequest{RequesterID: alice.ID, ReceiverID: bob.ID})
	require.NoError(t, err)
	_, err = f.repo.ConnectionRequests().Open(ctx, &connect.ConnectionRequest{RequesterID: carol.ID, ReceiverID: alice.ID})
	require.NoError(t, err)

	plain, err := f.base.Login(ctx, connect.Credentials{Identifier: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Empty(t, plain.User.ConnectionsSent)

	res, err := wf.Login(ctx, connect.Credentials{Identifier: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	require.Len(t, res.User.ConnectionsSent, 1)
	require.Len(t, res.User.ConnectionsReceived, 1)
	assert.Equal(t, bob.ID, res.User.ConnectionsSent[0].ReceiverID)
	assert.Equal(t, carol.ID, res.User.ConnectionsReceived[0].RequesterID)

	claims, err := f.tokens.Validate(res.JWT)
	require.NoError(t, err)
	assert.Equal(t, alice.ID.String(), claims.UserID())

	_, err = wf.Login(ctx, connect.Credentials{Identifier: "alice@example.com", Password: "nope"})
	assert.ErrorIs(t, err, connect.ErrInvalidCredentials)
}

func TestWorkflowAuth_LoginWithoutConnectionsListsBothEmpty(t *testing.T) {
	f := newAuthFixture(t, nil)
	wf := newWorkflow(f)
	seedUser(t, f.repo, "alice@example.com", "Alice")

	res, err := wf.Login(context.Background(), connect.Credentials{Identifier: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var body struct {
		User map[string]json.RawMessage `json:"user"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.JSONEq(t, `[]`, string(body.User["connections_sent"]))
	assert.JSONEq(t, `[]`, string(body.User["connections_received"]))
}

func TestWorkflowAuth_LoginKeepsTokenWhenEnrichmentFails(t *testing.T) {
	user := &connect.User{ID: uuid.New(), Email: "jane@example.com"}
	creds := connect.Credentials{Identifier: "jane@example.com", Password: "secret123"}

	base := new(MockAccountCapability)
	base.On("Login", mock.Anything, creds).Return(&connect.AuthResponse{JWT: "signed", User: user}, nil)

	identity := new(MockIdentityStore)
	identity.On("FindByID", mock.Anything, user.ID,
		[]string{connect.RelConnectionsSent, connect.RelConnectionsReceived},
	).Return(nil, assert.AnError)

	logger := &recordingLogger{}
	wf := connect.NewWorkflowAuth(base, identity, new(MockSender), newTestConfig(),
		connect.WithWorkflowLogger(logger),
	)

	res, err := wf.Login(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "signed", res.JWT)
	assert.Same(t, user, res.User)
	assert.Len(t, logger.Errors(), 1)

	base.AssertExpectations(t)
	identity.AssertExpectations(t)
}

func TestWorkflowAuth_URLs(t *testing.T) {
	cfg := newTestConfig()
	wf := connect.NewWorkflowAuth(new(MockAccountCapability), new(MockIdentityStore), nil, cfg)

	assert.Equal(t, "https://app.example.com/auth/email-confirmation?confirmation=abc", wf.ConfirmationURL("abc"))
	assert.Equal(t, "https://app.example.com/reset-password?code=abc", wf.ResetPasswordURL("abc"))
}
