// Copyright 2022 Granary Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package moerr

import (
	"context"
	"errors"
	"fmt"
)

const (
	// Signal codes. They are not errors: a code below OkMax reports an
	// expected condition through the error return slot, for example the
	// end of a stream. Callers test them with IsMoErrCode and must not
	// log them as failures.
	Ok              uint16 = 0
	OkStopCurrRecur uint16 = 1
	OkExpectedEOF   uint16 = 2 // end of stream
	OkExpectedEOB   uint16 = 3 // end of batch
	OkExpectedDup   uint16 = 4 // duplicate, idempotent registration
	OkMax           uint16 = 99

	// Group 1: internal errors
	ErrStart            uint16 = 20100
	ErrInternal         uint16 = 20101
	ErrNYI              uint16 = 20102
	ErrOOM              uint16 = 20103
	ErrQueryInterrupted uint16 = 20104

	// Group 2: invalid input from the caller
	ErrInvalidInput uint16 = 20300
	ErrInvalidArg   uint16 = 20301

	// Group 3: state and io
	ErrInvalidState  uint16 = 20400
	ErrBadFileFormat uint16 = 20401

	// Group 4: storage engine
	ErrTabletNotFound   uint16 = 20601
	ErrColumnNotFound   uint16 = 20602
	ErrVersionMiss      uint16 = 20603
	ErrRowsetNotFound   uint16 = 20604
	ErrSchemaMismatched uint16 = 20605

	ErrEnd uint16 = 65535
)

type moErrorMsgItem struct {
	errorCode        uint16
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]moErrorMsgItem{
	Ok:              {Ok, "ok"},
	OkStopCurrRecur: {OkStopCurrRecur, "stop current recursion"},
	OkExpectedEOF:   {OkExpectedEOF, "expected end of file"},
	OkExpectedEOB:   {OkExpectedEOB, "expected end of batch"},
	OkExpectedDup:   {OkExpectedDup, "expected duplicate"},

	ErrInternal:         {ErrInternal, "internal error: %s"},
	ErrNYI:              {ErrNYI, "%s is not yet implemented"},
	ErrOOM:              {ErrOOM, "out of memory"},
	ErrQueryInterrupted: {ErrQueryInterrupted, "query interrupted"},

	ErrInvalidInput: {ErrInvalidInput, "invalid input: %s"},
	ErrInvalidArg:   {ErrInvalidArg, "invalid argument %s, bad value %s"},

	ErrInvalidState:  {ErrInvalidState, "invalid state %s"},
	ErrBadFileFormat: {ErrBadFileFormat, "bad file format: %s"},

	ErrTabletNotFound:   {ErrTabletNotFound, "tablet %d not found"},
	ErrColumnNotFound:   {ErrColumnNotFound, "column %s not found"},
	ErrVersionMiss:      {ErrVersionMiss, "tablet %d missing rowset versions from %d"},
	ErrRowsetNotFound:   {ErrRowsetNotFound, "rowset %d not found in tablet %d"},
	ErrSchemaMismatched: {ErrSchemaMismatched, "schema mismatched: %s"},
}

// Error is the single error type of the engine. The code classifies
// the condition; codes at or below OkMax are expected signals, not
// failures.
type Error struct {
	code    uint16
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Succeeded() bool {
	return e.code <= OkMax
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

// IsMoErrCode reports whether err is an Error carrying the given code.
// nil matches Ok.
func IsMoErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}
	var me *Error
	if !errors.As(e, &me) {
		return false
	}
	return me.code == rc
}

// Static instances for the hot signal codes. They are shared and
// immutable; compare by code, never by pointer.
var (
	errOkStopCurrRecur = Error{OkStopCurrRecur, "stop current recursion"}
	errOkExpectedEOF   = Error{OkExpectedEOF, "expected end of file"}
	errOkExpectedEOB   = Error{OkExpectedEOB, "expected end of batch"}
	errOkExpectedDup   = Error{OkExpectedDup, "expected duplicate"}
)

func GetOkStopCurrRecur() *Error { return &errOkStopCurrRecur }
func GetOkExpectedEOF() *Error   { return &errOkExpectedEOF }
func GetOkExpectedEOB() *Error   { return &errOkExpectedEOB }
func GetOkExpectedDup() *Error   { return &errOkExpectedDup }

func newError(_ context.Context, code uint16, args ...any) *Error {
	var msg string
	item, has := errorMsgRefer[code]
	switch {
	case !has:
		msg = fmt.Sprintf("unknown error code %d", code)
	case len(args) == 0:
		msg = item.errorMsgOrFormat
	default:
		msg = fmt.Sprintf(item.errorMsgOrFormat, args...)
	}
	return &Error{code: code, message: msg}
}

func NewInternalError(ctx context.Context, format string, args ...any) *Error {
	return newError(ctx, ErrInternal, fmt.Sprintf(format, args...))
}

func NewInternalErrorNoCtx(format string, args ...any) *Error {
	return NewInternalError(context.Background(), format, args...)
}

func NewNYI(ctx context.Context, what string) *Error {
	return newError(ctx, ErrNYI, what)
}

func NewNYINoCtx(what string) *Error {
	return NewNYI(context.Background(), what)
}

func NewOOM(ctx context.Context) *Error {
	return newError(ctx, ErrOOM)
}

func NewOOMNoCtx() *Error {
	return NewOOM(context.Background())
}

func NewQueryInterrupted(ctx context.Context) *Error {
	return newError(ctx, ErrQueryInterrupted)
}

func NewInvalidInput(ctx context.Context, format string, args ...any) *Error {
	return newError(ctx, ErrInvalidInput, fmt.Sprintf(format, args...))
}

func NewInvalidInputNoCtx(format string, args ...any) *Error {
	return NewInvalidInput(context.Background(), format, args...)
}

func NewInvalidArg(ctx context.Context, arg string, val any) *Error {
	return newError(ctx, ErrInvalidArg, arg, fmt.Sprintf("%v", val))
}

func NewInvalidArgNoCtx(arg string, val any) *Error {
	return NewInvalidArg(context.Background(), arg, val)
}

func NewInvalidState(ctx context.Context, format string, args ...any) *Error {
	return newError(ctx, ErrInvalidState, fmt.Sprintf(format, args...))
}

func NewInvalidStateNoCtx(format string, args ...any) *Error {
	return NewInvalidState(context.Background(), format, args...)
}

func NewBadFileFormat(ctx context.Context, format string, args ...any) *Error {
	return newError(ctx, ErrBadFileFormat, fmt.Sprintf(format, args...))
}

func NewBadFileFormatNoCtx(format string, args ...any) *Error {
	return NewBadFileFormat(context.Background(), format, args...)
}

func NewTabletNotFound(ctx context.Context, tabletID uint64) *Error {
	return newError(ctx, ErrTabletNotFound, tabletID)
}

func NewColumnNotFound(ctx context.Context, name string) *Error {
	return newError(ctx, ErrColumnNotFound, name)
}

func NewVersionMiss(ctx context.Context, tabletID uint64, from int64) *Error {
	return newError(ctx, ErrVersionMiss, tabletID, from)
}

func NewRowsetNotFound(ctx context.Context, rowsetID, tabletID uint64) *Error {
	return newError(ctx, ErrRowsetNotFound, rowsetID, tabletID)
}

func NewSchemaMismatched(ctx context.Context, format string, args ...any) *Error {
	return newError(ctx, ErrSchemaMismatched, fmt.Sprintf(format, args...))
}

// ConvertGoError normalizes a foreign error crossing into the engine.
// Errors that are already *Error pass through; context cancellation
// maps to ErrQueryInterrupted.
func ConvertGoError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewQueryInterrupted(ctx)
	}
	return NewInternalError(ctx, "%s", err.Error())
}

// ConvertPanicError turns a recovered panic value into an Error.
func ConvertPanicError(ctx context.Context, v any) *Error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return NewInternalError(ctx, "panic %v", v)
}
