package core

import (
	"fmt"
	"reflect"
	"time"
)

// ValidateComparable reports whether v can be used as an identity in a map
// or compared with ==. Comparing two interface values holding a func, map or
// slice panics at run time, so subscribers are checked before registration.
// The check follows the dynamic value, so a struct whose interface field
// holds a func is rejected even though its type is comparable.
func ValidateComparable(v any) error {
	if v == nil {
		return &BusError{Code: CodeInvalid, Message: "value cannot be nil"}
	}
	if !reflect.ValueOf(v).Comparable() {
		return &BusError{Code: CodeInvalid, Message: fmt.Sprintf("value of type %T is not comparable", v)}
	}
	return nil
}

// ValidatePositive validates a size or count that must be > 0.
func ValidatePositive(name string, n int) error {
	if n <= 0 {
		return &BusError{Code: CodeInvalid, Message: name + " must be positive"}
	}
	return nil
}

// ValidateTimeout validates a timeout duration
func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return &BusError{Code: CodeInvalid, Message: "timeout must be positive"}
	}
	if timeout > 5*time.Minute {
		return &BusError{Code: CodeInvalid, Message: "timeout too large (max 5 minutes)"}
	}
	return nil
}

// FailFast panics with an error (fail-fast principle).
// Reserved for programmer errors in code paths that cannot return an error.
func FailFast(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w", err))
	}
}

// FailFastIf panics if condition is true
func FailFastIf(condition bool, message string) {
	if condition {
		panic(fmt.Errorf("fail-fast: %s", message))
	}
}
