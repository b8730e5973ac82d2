package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := ConfigInvalid("rho must be in [0,1)")
	wrapped := Wrapf(base, "loading %s", "config")

	assert.Equal(t, CodeConfigInvalid, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, CodeConfigInvalid))
	assert.Contains(t, wrapped.Error(), "rho must be in [0,1)")
}

func TestEstimationFailureUnwraps(t *testing.T) {
	cause := stderrors.New("singular")
	err := EstimationFailure(3, cause)

	assert.Equal(t, CodeEstimationFailure, GetCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
	assert.False(t, HasCode(stderrors.New("plain"), CodeInternalError))
	assert.Nil(t, Wrap(nil, "nothing"))
}
