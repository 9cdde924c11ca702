package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func TestStructListsEveryMissingField(t *testing.T) {
	err := Struct(signup{})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.ElementsMatch(t, []string{"username", "email", "password"}, ve.Missing())
	assert.Contains(t, ve.Error(), "email failed on required")
}

func TestStructReportsMalformedFields(t *testing.T) {
	err := Struct(signup{Username: "Root User", Email: "nope", Password: "x"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Empty(t, ve.Missing())
	assert.ElementsMatch(t, []FieldError{
		{Field: "username", Rule: "username"},
		{Field: "email", Rule: "email"},
	}, ve.Fields)
}

func TestStructAcceptsValid(t *testing.T) {
	require.NoError(t, Struct(signup{Username: "alice", Email: "alice@example.com", Password: "pw"}))
}

func TestIsUsername(t *testing.T) {
	for _, ok := range []string{"alice", "_svc", "bob-2", "a"} {
		assert.True(t, IsUsername(ok), ok)
	}
	for _, bad := range []string{"", "Alice", "1bob", "al ice", "root;rm", "a/b", "abcdefghijklmnopqrstuvwxyz0123456"} {
		assert.False(t, IsUsername(bad), bad)
	}
}

func TestPasswdRule(t *testing.T) {
	type form struct {
		Password string `json:"password" validate:"required,passwd"`
	}
	require.NoError(t, Struct(form{Password: "p@ss:word with spaces"}))
	for _, bad := range []string{"a\nroot:x", "a\rb", "a\x00b"} {
		var ve *ValidationError
		require.True(t, errors.As(Struct(form{Password: bad}), &ve), "%q", bad)
		assert.Equal(t, []FieldError{{Field: "password", Rule: "passwd"}}, ve.Fields)
	}
}

func TestBcryptMaxCountsBytes(t *testing.T) {
	type form struct {
		Password string `json:"password" validate:"required,bcryptmax"`
	}
	require.NoError(t, Struct(form{Password: strings.Repeat("a", MaxBcryptPasswordBytes)}))

	var ve *ValidationError
	require.True(t, errors.As(Struct(form{Password: strings.Repeat("é", 37)}), &ve))
	assert.Equal(t, []FieldError{{Field: "password", Rule: "bcryptmax"}}, ve.Fields)
}
