// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package sep

import "fmt"

// Code classifies the kind of failure an extraction or background operation
// ran into. Mirrors the status codes an extraction API returns to callers
// that cannot use Go's error values directly.
type Code int

const (
	CodeNone Code = iota
	CodeAllocFail
	CodePixstackFull
	CodeDeblendOverflow
	CodeObjectsLimit
	CodeUnsupportedDtype
	CodeIllegalArg
	CodeRelthreshNoNoise
)

var codeShortMessages = map[Code]string{
	CodeNone:             "no error",
	CodeAllocFail:        "memory allocation failed",
	CodePixstackFull:     "pixel stack full",
	CodeDeblendOverflow:  "deblend overflow, too many sub-objects",
	CodeObjectsLimit:     "too many objects",
	CodeUnsupportedDtype: "unsupported data type",
	CodeIllegalArg:       "illegal argument",
	CodeRelthreshNoNoise: "relative threshold but no noise array given",
}

// Error is the error type returned by every fallible operation in this
// package. It carries a Code for programmatic dispatch (compatible with
// errors.Is) plus a free-form Detail string for humans.
type Error struct {
	Code   Code
	Detail string
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.DetailMessage()
}

// ShortMessage returns a fixed, ≤60 character description of the error kind.
func (e *Error) ShortMessage() string {
	msg, ok := codeShortMessages[e.Code]
	if !ok {
		msg = "unknown error"
	}
	if len(msg) > 60 {
		msg = msg[:60]
	}
	return msg
}

// DetailMessage returns a longer, ≤512 character message describing the
// most recent failure, including any caller-supplied context.
func (e *Error) DetailMessage() string {
	msg := e.ShortMessage()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

// Is reports whether target is a *Error carrying the same Code, so callers
// can write errors.Is(err, sep.ErrPixstackFull) and similar.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors for errors.Is comparisons against a specific failure kind.
var (
	ErrAllocFail        = &Error{Code: CodeAllocFail}
	ErrPixstackFull     = &Error{Code: CodePixstackFull}
	ErrDeblendOverflow  = &Error{Code: CodeDeblendOverflow}
	ErrObjectsLimit     = &Error{Code: CodeObjectsLimit}
	ErrUnsupportedDtype = &Error{Code: CodeUnsupportedDtype}
	ErrIllegalArg       = &Error{Code: CodeIllegalArg}
	ErrRelthreshNoNoise = &Error{Code: CodeRelthreshNoNoise}
)
