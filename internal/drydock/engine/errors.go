package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so the boundary layer can map it to a
// transport-level code without string matching.
type Kind string

const (
	// KindNotFound: the sandbox (or a catalog reference) does not exist.
	KindNotFound Kind = "not_found"
	// KindValidation: the request itself is malformed.
	KindValidation Kind = "validation"
	// KindConflict: reserved for entities that reject duplicates outright.
	// Sandbox names deliberately do not conflict (slugs are suffixed).
	KindConflict Kind = "conflict"
	// KindPrecondition: the operation is not valid for the current status.
	KindPrecondition Kind = "precondition"
	// KindRuntime: the container runtime adapter failed.
	KindRuntime Kind = "runtime"
	// KindGit: the git backend adapter failed.
	KindGit Kind = "git"
)

// Error is the engine's error type. It always carries the operation name and,
// when known, the sandbox ID, so adapter failures surface with context.
type Error struct {
	Kind      Kind
	Op        string
	SandboxID string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	var b []byte
	b = append(b, e.Op...)
	if e.SandboxID != "" {
		b = append(b, ' ')
		b = append(b, e.SandboxID...)
	}
	if e.Msg != "" {
		b = append(b, ": "...)
		b = append(b, e.Msg...)
	}
	if e.Err != nil {
		b = append(b, ": "...)
		b = append(b, e.Err.Error()...)
	}
	return string(b)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func notFound(op, sandboxID string) error {
	return &Error{Kind: KindNotFound, Op: op, SandboxID: sandboxID, Msg: "sandbox not found"}
}

func validation(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func precondition(op, sandboxID, format string, args ...interface{}) error {
	return &Error{Kind: KindPrecondition, Op: op, SandboxID: sandboxID, Msg: fmt.Sprintf(format, args...)}
}

func runtimeError(op, sandboxID string, err error) error {
	return &Error{Kind: KindRuntime, Op: op, SandboxID: sandboxID, Err: err}
}

func gitError(op, sandboxID string, err error) error {
	return &Error{Kind: KindGit, Op: op, SandboxID: sandboxID, Err: err}
}
