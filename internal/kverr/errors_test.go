package kverr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicates_MatchWrappedErrors(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "conflict", err: Conflict("store", "bad token"), check: IsConflict},
		{name: "malformed", err: Malformed("fetch", nil, "bad body"), check: IsMalformed},
		{name: "validation", err: Validation("compile", "no inputs"), check: IsValidation},
		{name: "transport", err: Transport("fetch", errors.New("refused")), check: IsTransport},
		{name: "status", err: Status("fetch", 503, []byte("down")), check: IsTransport},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, tc.check(wrapped))
		})
	}
}

func TestPredicates_DoNotCrossMatch(t *testing.T) {
	err := Validation("compile", "no inputs")
	assert.False(t, IsConflict(err))
	assert.False(t, IsTransport(err))
	assert.False(t, IsMalformed(err))
	assert.False(t, IsValidation(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := Status("fetch", 503, []byte("down"))
	assert.Equal(t, "fetch: TRANSPORT: unexpected status (status=503)", err.Error())

	cause := errors.New("connection refused")
	err = Transport("store", cause)
	assert.Equal(t, "store: TRANSPORT: request failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
