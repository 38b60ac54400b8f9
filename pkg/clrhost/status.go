package clrhost

import (
	"errors"
	"fmt"
)

// Status is an HRESULT-style result code exchanged with the runtime.
type Status int32

// Well-known status codes.
const (
	OK          Status = 0
	False       Status = 1
	EFail       Status = -2147467259 // 0x80004005
	ENotImpl    Status = -2147467263 // 0x80004001
	EInvalidArg Status = -2147024809 // 0x80070057
	EUnexpected Status = -2147418113 // 0x8000FFFF
)

// Failed reports whether s is a failure code.
func (s Status) Failed() bool { return s < 0 }

func (s Status) String() string {
	switch s {
	case OK:
		return "S_OK"
	case False:
		return "S_FALSE"
	case EFail:
		return "E_FAIL"
	case ENotImpl:
		return "E_NOTIMPL"
	case EInvalidArg:
		return "E_INVALIDARG"
	case EUnexpected:
		return "E_UNEXPECTED"
	}
	return fmt.Sprintf("0x%08x", uint32(s))
}

// StatusError carries a failure status through Go error values.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// Errorf returns nil for success codes and a *StatusError otherwise.
func Errorf(op string, s Status) error {
	if !s.Failed() {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// ErrUnexpected marks a notification the engine cannot handle in its
// current state, for example after shutdown.
var ErrUnexpected = errors.New("unexpected notification")

// StatusOf maps an error returned by a callback to the status reported back
// to the runtime.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	if errors.Is(err, ErrUnexpected) {
		return EUnexpected
	}
	return EFail
}
