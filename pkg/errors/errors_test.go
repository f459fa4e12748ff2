package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeDuplicate, "breakpoint already set"),
			expected: "[DUPLICATE] breakpoint already set",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeOutOfMemory, "tag node", errors.New("handle table full")),
			expected: "[OUT_OF_MEMORY] tag node: handle table full",
		},
		{
			name:     "formatted message",
			err:      Newf(CodeNotFound, "no breakpoint at %#x", 0x40),
			expected: "[NOT_FOUND] no breakpoint at 0x40",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeOutOfMemory, "allocation failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeDuplicate, "error 1")
	err2 := New(CodeDuplicate, "error 2")
	err3 := New(CodeNotFound, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
	assert.True(t, errors.Is(fmt.Errorf("outer: %w", err1), ErrDuplicate))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		check    func(error) bool
		match    error
		mismatch error
	}{
		{"not found", IsNotFound, Newf(CodeNotFound, "no watch"), ErrDuplicate},
		{"duplicate", IsDuplicate, ErrDuplicate, ErrNotFound},
		{"out of memory", IsOutOfMemory, Wrap(CodeOutOfMemory, "x", errors.New("y")), ErrNotFound},
		{"not available", IsNotAvailable, ErrNotAvailable, ErrWrongPhase},
		{"wrong phase", IsWrongPhase, ErrWrongPhase, ErrNotAvailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.match))
			assert.False(t, tt.check(tt.mismatch))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeOpaqueFrame, "outermost frame"),
			expected: CodeOpaqueFrame,
		},
		{
			name:     "wrapped app error",
			err:      fmt.Errorf("set tag: %w", ErrInvalidObject),
			expected: CodeInvalidObject,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	assert.Equal(t, "outermost frame", GetErrorMessage(New(CodeOpaqueFrame, "outermost frame")))
	assert.Equal(t, "standard error", GetErrorMessage(errors.New("standard error")))
	assert.Equal(t, "", GetErrorMessage(nil))
}
