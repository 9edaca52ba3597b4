package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it.
type Kind int

const (
	// KindUnknown is anything not produced by this package.
	KindUnknown Kind = iota
	// KindInvalid aborts a request before any resource was created.
	KindInvalid
	// KindFatal aborts a deployment midway; created resources are left in place.
	KindFatal
	// KindNotFound means the caller referenced something that does not exist.
	KindNotFound
	// KindNotImplemented is a recognised but unimplemented feature.
	KindNotImplemented
	// KindConflict is a request that contradicts the current cluster state.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	case KindNotFound:
		return "not found"
	case KindNotImplemented:
		return "not implemented"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

var (
	ErrMissingTopology   = &Error{Kind: KindInvalid, Err: errors.New("model topology is missing")}
	ErrMissingConfig     = &Error{Kind: KindInvalid, Err: errors.New("required config file is missing")}
	ErrUnknownBackend    = &Error{Kind: KindInvalid, Err: errors.New("unknown orchestration backend")}
	ErrUnsupportedModel  = &Error{Kind: KindInvalid, Err: errors.New("unsupported model topology")}
	ErrMissingStage      = &Error{Kind: KindInvalid, Err: errors.New("pipeline stage is missing")}
	ErrInvalidClusterID  = &Error{Kind: KindInvalid, Err: errors.New("invalid cluster id")}
	ErrInvalidStage      = &Error{Kind: KindInvalid, Err: errors.New("invalid stage")}
	ErrInvalidDescriptor = &Error{Kind: KindInvalid, Err: errors.New("invalid cluster descriptor")}
	ErrNotImplemented    = &Error{Kind: KindNotImplemented, Err: errors.New("model topology is not implemented")}
	ErrServiceNotFound   = &Error{Kind: KindNotFound, Err: errors.New("service not found")}
	ErrClusterNotFound   = &Error{Kind: KindNotFound, Err: errors.New("cluster not found")}
	ErrInvalidTransition = &Error{Kind: KindConflict, Err: errors.New("invalid cluster state transition")}
	ErrClusterExists     = &Error{Kind: KindConflict, Err: errors.New("cluster already exists")}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by identity of the wrapped error so that
// errors.Is(E(op, ErrServiceNotFound, ...), ErrServiceNotFound) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" {
		return false
	}
	return errors.Is(e.Err, t.Err)
}

// E builds an error of the given sentinel's kind with operation context and
// an optional detail message.
func E(op string, sentinel *Error, format string, args ...interface{}) error {
	err := sentinel.Err
	if format != "" {
		err = &detail{msg: fmt.Sprintf(format, args...), err: sentinel.Err}
	}
	return &Error{Kind: sentinel.Kind, Op: op, Err: err}
}

// Fatal marks err as aborting a deployment midway.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err aborted a deployment midway.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

type detail struct {
	msg string
	err error
}

func (d *detail) Error() string {
	return fmt.Sprintf("%v: %s", d.err, d.msg)
}

func (d *detail) Unwrap() error {
	return d.err
}
