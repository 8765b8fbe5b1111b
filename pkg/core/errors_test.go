package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &BusError{Code: CodeInvalid, Message: "bad size"})

	assert.ErrorIs(t, err, &BusError{Code: CodeInvalid})
	assert.ErrorIs(t, err, &BusError{Code: CodeInvalid, Message: "bad size"})
	assert.NotErrorIs(t, err, &BusError{Code: CodeInvalid, Message: "other"})
	assert.NotErrorIs(t, err, &BusError{Code: CodePublish})
}

func TestBusError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &BusError{Code: CodeInvalid, Message: "save", Err: cause}
	assert.EqualError(t, err, "save: disk full")
	assert.ErrorIs(t, err, cause)
}

func TestConstructionError(t *testing.T) {
	cause := errors.New("capacity must not be negative")
	err := NewConstructionError("queued bus", cause)

	assert.EqualError(t, err, "construct queued bus: capacity must not be negative")
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &BusError{Code: CodeConstruction})
	assert.NotErrorIs(t, err, &BusError{Code: CodePanic})

	var cerr *ConstructionError
	assert.ErrorAs(t, fmt.Errorf("startup: %w", err), &cerr)
	assert.Equal(t, "queued bus", cerr.Component)
}

func TestPanicError(t *testing.T) {
	err := &PanicError{Value: "boom"}
	assert.EqualError(t, err, "panic: boom")
	assert.ErrorIs(t, err, &BusError{Code: CodePanic})
}
