package invite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoreErrorIsSentinel(t *testing.T) {
	err := WithSIPStatus(ErrSessionState, "wrong state for reinvite", 491)
	assert.True(t, errors.Is(err, Sentinel(ErrSessionState)))
	assert.False(t, errors.Is(err, Sentinel(ErrTimedOut)))
	assert.Contains(t, err.Error(), "491")
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(ErrMediaFailure, "sdp negotiation failed", cause)
	assert.ErrorIs(t, err, cause)
}
