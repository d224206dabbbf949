package pin

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrIO               = errors.New("i/o error")

	// ErrDisposed is returned by every operation on a disposed pin. It also
	// matches ErrInvalidOperation.
	ErrDisposed error = disposedError{}
)

type disposedError struct{}

func (disposedError) Error() string { return "pin is disposed" }

func (disposedError) Is(target error) bool { return target == ErrInvalidOperation }

// IOError wraps a transport fault with the device and the operation that
// was being performed, e.g. Device "mcp23s17@0x40", Op "write GPIOA".
type IOError struct {
	Device string
	Op     string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }
