package core

import "fmt"

// Error codes shared by the msgbus packages.
const (
	CodeConstruction = "CONSTRUCTION"
	CodePublish      = "PUBLISH"
	CodeSubscriber   = "SUBSCRIBER"
	CodeInvalid      = "INVALID"
	CodePanic        = "PANIC"
)

// BusError is a coded error. Code is stable and meant for programmatic checks,
// Message is for humans.
type BusError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *BusError) Unwrap() error {
	return e.Err
}

// Is matches another *BusError with the same Code.
func (e *BusError) Is(target error) bool {
	t, ok := target.(*BusError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// ConstructionError reports invalid configuration detected while building a
// component. It is always fatal to the constructing call.
type ConstructionError struct {
	Component string
	Err       error
}

// NewConstructionError builds a ConstructionError for component.
func NewConstructionError(component string, err error) *ConstructionError {
	return &ConstructionError{Component: component, Err: err}
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %s: %v", e.Component, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &BusError{Code: CodeConstruction}) match.
func (e *ConstructionError) Is(target error) bool {
	t, ok := target.(*BusError)
	return ok && t.Code == CodeConstruction && t.Message == ""
}

// PanicError carries a value recovered from a panicking callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Is lets errors.Is(err, &BusError{Code: CodePanic}) match.
func (e *PanicError) Is(target error) bool {
	t, ok := target.(*BusError)
	return ok && t.Code == CodePanic && t.Message == ""
}
