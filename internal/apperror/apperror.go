package apperror

import "errors"

type Code string

const (
	// TransientFetch marks a network or remote-source failure for one symbol.
	// The symbol is reported failed; the batch continues.
	TransientFetch Code = "TRANSIENT_FETCH"
	// CacheRead marks an unreadable or corrupt local table. Callers treat it
	// as "no cached data" and re-fetch; never fatal.
	CacheRead Code = "CACHE_READ"
	// Storage marks an unwritable local table. Fatal for that symbol only.
	Storage Code = "STORAGE"
	// Config marks an invalid configuration. Fatal to the whole run.
	Config Code = "CONFIG"
)

type AppError struct {
	code    Code
	message string
	err     error
}

func New(code Code, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Wrap attaches a code to an underlying error, preserving the chain for
// errors.Is/As.
func Wrap(code Code, err error) *AppError {
	return &AppError{code: code, message: err.Error(), err: err}
}

func (e *AppError) Error() string   { return e.message }
func (e *AppError) Unwrap() error   { return e.err }
func (e *AppError) Code() Code      { return e.code }
func (e *AppError) Message() string { return e.message }

// CodeOf extracts the code from an error chain. Errors without an AppError in
// the chain classify as TransientFetch, the only recoverable default.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.code
	}
	return TransientFetch
}
