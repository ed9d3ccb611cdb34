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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOkSignals(t *testing.T) {
	eof := GetOkExpectedEOF()
	require.True(t, eof.Succeeded())
	require.True(t, IsMoErrCode(eof, OkExpectedEOF))
	require.False(t, IsMoErrCode(eof, OkExpectedEOB))

	// same code from two sites must compare equal via Is
	require.True(t, errors.Is(GetOkExpectedEOF(), eof))
	require.True(t, IsMoErrCode(nil, Ok))
}

func TestNewError(t *testing.T) {
	ctx := context.Background()
	err := NewInternalError(ctx, "stale pointer %d", 42)
	require.Equal(t, "internal error: stale pointer 42", err.Error())
	require.Equal(t, ErrInternal, err.ErrorCode())
	require.False(t, err.Succeeded())

	err = NewTabletNotFound(ctx, 1001)
	require.True(t, IsMoErrCode(err, ErrTabletNotFound))
	require.Contains(t, err.Error(), "1001")

	err = NewVersionMiss(ctx, 7, 11)
	require.Equal(t, "tablet 7 missing rowset versions from 11", err.Error())

	err = NewInvalidArg(ctx, "batch size", -1)
	require.Equal(t, "invalid argument batch size, bad value -1", err.Error())
}

func TestIsMoErrCodeWrapped(t *testing.T) {
	base := NewInvalidInputNoCtx("empty column list")
	wrapped := fmt.Errorf("init: %w", base)
	require.True(t, IsMoErrCode(wrapped, ErrInvalidInput))
	require.False(t, IsMoErrCode(errors.New("plain"), ErrInvalidInput))
}

func TestConvertGoError(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, ConvertGoError(ctx, nil))

	me := NewOOMNoCtx()
	require.Equal(t, error(me), ConvertGoError(ctx, me))

	got := ConvertGoError(ctx, context.Canceled)
	require.True(t, IsMoErrCode(got, ErrQueryInterrupted))

	got = ConvertGoError(ctx, errors.New("disk on fire"))
	require.True(t, IsMoErrCode(got, ErrInternal))
	require.Contains(t, got.Error(), "disk on fire")
}

func TestConvertPanicError(t *testing.T) {
	ctx := context.Background()
	me := NewInvalidState(ctx, "reader closed")
	require.Equal(t, me, ConvertPanicError(ctx, me))

	got := ConvertPanicError(ctx, "boom")
	require.True(t, IsMoErrCode(got, ErrInternal))
}
