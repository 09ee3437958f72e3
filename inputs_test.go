package connect_test

import (
	"encoding/json"
	"testing"

	connect "github.com/goliatone/go-connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterInput_UnmarshalRecordsFields(t *testing.T) {
	var in connect.RegisterInput
	require.NoError(t, json.Unmarshal([]byte(`{"email":"a@b.co","password":"secret123","is_admin":true}`), &in))

	assert.Equal(t, "a@b.co", in.Email)
	assert.Equal(t, []string{"email", "is_admin", "password"}, in.Fields)

	err := in.Normalize().Validate(connect.DefaultRegisterFields, "US")
	require.Error(t, err)
	assert.Contains(t, connect.FormatValidationErrorToMap(err)["payload"], "is_admin")
}

func TestRegisterInput_Normalize(t *testing.T) {
	in := connect.RegisterInput{Email: " Jane@Example.COM ", FullName: " Jane "}.Normalize()

	assert.Equal(t, "jane@example.com", in.Email)
	assert.Equal(t, "jane", in.Username)
	assert.Equal(t, "Jane", in.FullName)

	in = connect.RegisterInput{Email: "jane@example.com", Username: " jd "}.Normalize()
	assert.Equal(t, "jd", in.Username)
}

func TestRegisterInput_ProfileFieldsAreConfigurable(t *testing.T) {
	in := connect.RegisterInput{
		Email:    "jane@example.com",
		Username: "jane",
		Password: "secret123",
		FullName: "Jane",
		Fields:   []string{"email", "full_name", "password"},
	}

	assert.NoError(t, in.Validate(connect.DefaultRegisterFields, "US"))
	assert.Error(t, in.Validate([]string{connect.FieldPhoneNumber}, "US"))
}

func TestForgotPasswordInput(t *testing.T) {
	var in connect.ForgotPasswordInput
	require.NoError(t, json.Unmarshal([]byte(`{"email":"jane@example.com"}`), &in))
	assert.NoError(t, in.Validate())

	require.NoError(t, json.Unmarshal([]byte(`{"email":"jane@example.com","redirect":"x"}`), &in))
	fields := connect.FormatValidationErrorToMap(in.Validate())
	assert.Equal(t, "unrecognized fields: redirect", fields["payload"])

	assert.Error(t, connect.ForgotPasswordInput{Email: "nope"}.Validate())
}

func TestResetPasswordInput(t *testing.T) {
	assert.NoError(t, connect.ResetPasswordInput{Code: "c", Password: "secret1", PasswordConfirmation: "secret1"}.Validate())

	fields := connect.FormatValidationErrorToMap(connect.ResetPasswordInput{
		Code:                 "c",
		Password:             "secret1",
		PasswordConfirmation: "secret2",
	}.Validate())
	assert.Equal(t, "values must match", fields["password_confirmation"])

	assert.Error(t, connect.ResetPasswordInput{Password: "secret1", PasswordConfirmation: "secret1"}.Validate())
}

func TestConnectionInputs(t *testing.T) {
	assert.NoError(t, connect.ConnectionCreateInput{Receiver: uuid.NewString()}.Validate())
	assert.Error(t, connect.ConnectionCreateInput{Receiver: "bob"}.Validate())
	assert.Error(t, connect.ConnectionCreateInput{}.Validate())

	assert.True(t, connect.ConnectionUpdate{}.Empty())
	assert.NoError(t, connect.ConnectionUpdate{Status: statusPtr(connect.ConnectionRejected)}.Validate())
	assert.Error(t, connect.ConnectionUpdate{Status: statusPtr("maybe")}.Validate())
	assert.False(t, connect.ConnectionUpdate{Message: strPtr("hi")}.Empty())
}

func TestNormalizePhoneNumber(t *testing.T) {
	got, err := connect.NormalizePhoneNumber("(650) 253-0000", "")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	got, err = connect.NormalizePhoneNumber("+44 20 7031 3000", "US")
	require.NoError(t, err)
	assert.Equal(t, "+442070313000", got)

	_, err = connect.NormalizePhoneNumber("12", "US")
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	assert.NoError(t, connect.Credentials{Identifier: "jane", Password: "x"}.Validate())
	assert.Error(t, connect.Credentials{Identifier: "jane"}.Validate())
}
