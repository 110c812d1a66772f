package carte

import "errors"

// Code is the machine-readable reason a carte was rejected.
type Code string

const (
	CodeUnknownFingerprint Code = "carte.unknown-fingerprint"
	CodeInvalid            Code = "carte.invalid"
	CodeNotBegun           Code = "carte.not-begun"
	CodeExpired            Code = "carte.expired"
	CodeWrongNode          Code = "carte.wrong-node"
	CodeUnknownSigningKey  Code = "carte.unknown-signing-key"
	CodeInvalidSignature   Code = "carte.invalid-signature"
)

// Error is a carte rejection. A rejected carte is a hard deny; it is never
// treated as an absent one.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func reject(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the rejection code carried by err, or "" if err is not a
// carte rejection.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
