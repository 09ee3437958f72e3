package connect_test

import (
	"errors"
	"net/http"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{connect.ErrValidation, http.StatusBadRequest},
		{connect.ErrInvalidCredentials, http.StatusBadRequest},
		{connect.ErrEmailNotConfirmed, http.StatusUnauthorized},
		{connect.ErrUserBlocked, http.StatusForbidden},
		{connect.ErrNotFound, http.StatusNotFound},
		{connect.ErrSelfConnection, http.StatusBadRequest},
		{connect.ErrConnectionExists, http.StatusConflict},
		{connect.ErrInvalidTransition, http.StatusBadRequest},
		{connect.ErrForbidden, http.StatusForbidden},
		{connect.ErrTooManyRequests, http.StatusTooManyRequests},
		{connect.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, connect.HTTPStatus(tt.err))
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := connect.NewValidationError(validation.Errors{
		"email":    errors.New("cannot be blank"),
		"password": nil,
	})

	assert.True(t, connect.IsValidationError(err))
	assert.Equal(t, connect.TextCodeValidation, err.TextCode)
	assert.Equal(t, map[string]string{"email": "cannot be blank"}, err.Metadata["errors"])

	plain := connect.NewValidationError(errors.New("bad json"))
	assert.Equal(t, map[string]string{"payload": "bad json"}, plain.Metadata["errors"])

	assert.Empty(t, connect.FormatValidationErrorToMap(nil))
	assert.False(t, connect.IsValidationError(errors.New("x")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, connect.IsNotFound(connect.ErrNotFound))
	assert.True(t, connect.IsNotFound(repository.NewRecordNotFound()))
	assert.False(t, connect.IsNotFound(connect.ErrForbidden))
	assert.False(t, connect.IsNotFound(nil))
}
