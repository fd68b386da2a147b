package git

import (
	"fmt"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// ResultKind distinguishes success, a dirty working copy and backend failures.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultDirty
	ResultBackendError
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultDirty:
		return "dirty"
	case ResultBackendError:
		return "backend_error"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result codes. Backend codes are negative, dirty keeps the legacy value 100.
const (
	CodeOK       = 0
	CodeDirty    = 100
	CodeGeneric  = -1
	CodeNotFound = -3
	CodeExists   = -4
	CodeAuth     = -16
)

// Result is the outcome of a repository operation.
type Result struct {
	Kind    ResultKind
	Code    int
	Message string
	Err     error
}

// OK is the successful result.
func OK() Result { return Result{Kind: ResultOK, Code: CodeOK} }

// Dirty reports a working copy with local modifications.
func Dirty(name string) Result {
	return Result{
		Kind:    ResultDirty,
		Code:    CodeDirty,
		Message: fmt.Sprintf("working copy %s has local modifications", name),
	}
}

// Failed wraps a backend error. The code is derived from its classification.
func Failed(err error) Result {
	if err == nil {
		return OK()
	}
	return Result{Kind: ResultBackendError, Code: backendCode(err), Message: err.Error(), Err: err}
}

// IsOK reports success.
func (r Result) IsOK() bool { return r.Kind == ResultOK }

// IsDirty reports the dirty sentinel.
func (r Result) IsDirty() bool { return r.Kind == ResultDirty }

// AsError returns nil for success, otherwise a classified error carrying the code.
func (r Result) AsError() error {
	switch r.Kind {
	case ResultOK:
		return nil
	case ResultDirty:
		return GitError(r.Message).WithContext("code", r.Code).Build()
	default:
		if _, ok := errors.AsClassified(r.Err); ok {
			return r.Err
		}
		return GitError(r.Message).WithCause(r.Err).WithContext("code", r.Code).Build()
	}
}

func (r Result) String() string {
	if r.Kind == ResultOK {
		return "ok"
	}
	return fmt.Sprintf("%s(%d): %s", r.Kind, r.Code, r.Message)
}
