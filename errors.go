// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"errors"
	"fmt"
)

// ErrorCode classifies dataplane failures. Codes are stable and are also
// carried in mailbox replies, so values must not be renumbered.
type ErrorCode uint32

const (
	_ ErrorCode = iota
	UnsupportedEndpoint
	NoMoreBufferAvailable
	NoMoreSMB
	InternalProgrammingError1
	UnsupportedTransfer
	BadEndpoint
	MailboxBusy
	CircuitNotFound
	PortNotFound
	BadBufferID
	BadDescriptor
	SegmentRange
)

var codeNames = [...]string{
	UnsupportedEndpoint:       "unsupported endpoint",
	NoMoreBufferAvailable:     "no more buffer available",
	NoMoreSMB:                 "no more shared memory",
	InternalProgrammingError1: "internal programming error",
	UnsupportedTransfer:       "unsupported data transfer request rejected",
	BadEndpoint:               "malformed endpoint",
	MailboxBusy:               "mailbox busy",
	CircuitNotFound:           "circuit not found",
	PortNotFound:              "port not found",
	BadBufferID:               "buffer id out of range",
	BadDescriptor:             "malformed descriptor",
	SegmentRange:              "segment range out of bounds",
}

func (c ErrorCode) String() string {
	if int(c) < len(codeNames) && codeNames[c] != "" {
		return codeNames[c]
	}
	return fmt.Sprintf("error code %d", uint32(c))
}

// Error is the error type returned by dataplane operations.
// errors.Is matches any *Error with the same Code.
type Error struct {
	Code   ErrorCode
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "dataplane: " + e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedEndpoint   = &Error{Code: UnsupportedEndpoint}
	ErrNoMoreBufferAvailable = &Error{Code: NoMoreBufferAvailable}
	ErrNoMoreSMB             = &Error{Code: NoMoreSMB}
	ErrInternalProgramming   = &Error{Code: InternalProgrammingError1}
	ErrUnsupportedTransfer   = &Error{Code: UnsupportedTransfer}
	ErrBadEndpoint           = &Error{Code: BadEndpoint}
	ErrMailboxBusy           = &Error{Code: MailboxBusy}
	ErrCircuitNotFound       = &Error{Code: CircuitNotFound}
	ErrPortNotFound          = &Error{Code: PortNotFound}
	ErrBadBufferID           = &Error{Code: BadBufferID}
	ErrBadDescriptor         = &Error{Code: BadDescriptor}
	ErrSegmentRange          = &Error{Code: SegmentRange}
)

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Err: err}
}

// codeOf extracts the ErrorCode carried by err, or 0.
func codeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
