package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesUnderlyingError(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransientInfra("call sandbox", cause)

	assert.Equal(t, ErrCodeTransientInfra, err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOfUnwrapsThroughFmtErrorf(t *testing.T) {
	err := Fatal("readiness timeout", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("scan aborted: %w", err)

	code, ok := CodeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeFatal, code)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Fatal("clone failed", nil)))
	assert.False(t, IsFatal(ToolFailure("semgrep nonzero exit", nil)))
	assert.False(t, IsFatal(errors.New("plain error")))
}

func TestCodeOfReturnsFalseForPlainError(t *testing.T) {
	_, ok := CodeOf(errors.New("plain error"))
	assert.False(t, ok)
}
