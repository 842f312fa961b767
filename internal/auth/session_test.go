package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionToken(t *testing.T) {
	token, hash, err := GenerateSessionToken()
	require.NoError(t, err)

	assert.Len(t, token, TokenLength*2) // hex encoded
	assert.Equal(t, HashToken(token), hash)
	assert.NotEqual(t, token, hash)

	other, _, err := GenerateSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestHashTokenDeterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}

func TestValidateSessionState(t *testing.T) {
	assert.NoError(t, ValidateSessionState(time.Now().Add(time.Hour), false))
	assert.Error(t, ValidateSessionState(time.Now().Add(-time.Minute), false))
	assert.Error(t, ValidateSessionState(time.Now().Add(time.Hour), true))
}

func TestSessionCookieAttributes(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	expires := time.Now().Add(time.Hour)

	cookie := SessionCookie(r, "tok", expires)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.Equal(t, "tok", cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure) // plain HTTP test request
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	cleared := ClearSessionCookie(r)
	assert.Equal(t, SessionCookieName, cleared.Name)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.Expires.Before(time.Now()))
}

func TestSafeRedirectPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/notes":                    "/notes",
		"/notes/42":                 "/notes/42",
		"https://evil.example/":     "/",
		"//evil.example/phish":      "/",
		"notes":                     "/",
		"javascript:alert(1)":       "/",
		"/safe?next=https://other/": "/safe",
	}
	for input, want := range cases {
		assert.Equal(t, want, SafeRedirectPath(input), "input %q", input)
	}
}
