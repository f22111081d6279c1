package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitError_Message(t *testing.T) {
	err := NewExitError(ExitCommandError, "bad config")
	assert.Equal(t, "bad config", err.Error())

	wrapped := WrapExitError(ExitFailure, "engine", errors.New("boom"))
	assert.Equal(t, "engine: boom", wrapped.Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	// Wrapped ExitErrors are still recognized.
	inner := WrapExitError(ExitCommandError, "inner", nil)
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", inner)))
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapExitError(ExitFailure, "ctx", cause)
	assert.ErrorIs(t, err, cause)
}
