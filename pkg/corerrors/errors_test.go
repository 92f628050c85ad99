package corerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	err := NewBackpressureError(9, 10)
	assert.Equal(t, CodeBackpressureActive, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := NewQueueFullError(10, 10)
	require.True(t, errors.Is(err, &CoreError{Code: CodeQueueFull}))
	require.False(t, errors.Is(err, &CoreError{Code: CodeCircuitOpen}))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := WrapUnknown(cause)
	assert.ErrorIs(t, err, cause)
}
