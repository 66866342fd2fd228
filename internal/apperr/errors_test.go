package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validation("bad input"), http.StatusBadRequest},
		{NotFound(), http.StatusNotFound},
		{RateLimited(30), http.StatusTooManyRequests},
		{ResendLimit(), http.StatusTooManyRequests},
		{ResendTooSoon(45), http.StatusTooManyRequests},
		{Expired(), http.StatusBadRequest},
		{MaxAttempts(), http.StatusBadRequest},
		{InvalidCode(2), http.StatusBadRequest},
		{Gateway(errors.New("502")), http.StatusInternalServerError},
		{Persistence(errors.New("down")), http.StatusInternalServerError},
		{Configuration(errors.New("missing key")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.HTTPStatus(), "code %s", tc.err.Code)
	}
}

func TestFromErrorUnwrapsChains(t *testing.T) {
	cause := Expired()
	wrapped := fmt.Errorf("verify session: %w", cause)

	got := FromError(wrapped)
	assert.Equal(t, CodeExpired, got.Code)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	got := FromError(errors.New("raw driver error"))
	assert.Equal(t, CodeInternal, got.Code)
	assert.NotContains(t, got.MessageEN, "driver",
		"raw causes must not leak into response messages")
}

func TestErrorIsMatchesByCode(t *testing.T) {
	assert.True(t, errors.Is(InvalidCode(2), InvalidCode(0)))
	assert.False(t, errors.Is(InvalidCode(2), Expired()))
}

func TestRetryMetadata(t *testing.T) {
	assert.Equal(t, 30, RateLimited(30).RetryAfterSeconds)
	assert.Equal(t, 45, ResendTooSoon(45).RetryAfterSeconds)

	remaining := InvalidCode(2).RemainingAttempts
	require.NotNil(t, remaining)
	assert.Equal(t, 2, *remaining)

	exhausted := MaxAttempts().RemainingAttempts
	require.NotNil(t, exhausted)
	assert.Equal(t, 0, *exhausted)
}

func TestEveryErrorCarriesBothLanguages(t *testing.T) {
	all := []*Error{
		Validation("x"), RateLimited(1), NotFound(), Expired(), MaxAttempts(),
		InvalidCode(1), ResendLimit(), ResendTooSoon(1),
		Gateway(errors.New("x")), Persistence(errors.New("x")),
	}
	for _, e := range all {
		assert.NotEmpty(t, e.Message, "code %s", e.Code)
		assert.NotEmpty(t, e.MessageEN, "code %s", e.Code)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Persistence(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}
