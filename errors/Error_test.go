package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_NewCustomError tests the creation and chaining of custom errors.
func Test_NewCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "peer address not found")
	require.NotNil(t, err)
	require.Equal(t, ERR_NOT_FOUND, err.Code())
	require.Equal(t, "peer address not found", err.Message())

	secondErr := New(ERR_INVALID_ARGUMENT, "[Registry][%s] failed to add address", "10.0.0.1:8333", err)
	thirdErr := New(ERR_NETWORK_INVALID_RESPONSE, "[Framer][%s] bad header", "10.0.0.1:8333", secondErr)
	anotherErr := New(ERR_NETWORK_INVALID_RESPONSE, "another bad header")
	fourthErr := New(ERR_SERVICE_ERROR, "loop stopped", thirdErr)

	require.True(t, anotherErr.Is(thirdErr))
	require.True(t, fourthErr.Is(New(ERR_NETWORK_INVALID_RESPONSE, "")))
	require.True(t, fourthErr.Is(ErrNetworkInvalidResponse))
	require.True(t, fourthErr.Is(err))

	require.False(t, anotherErr.Is(fourthErr))
	require.False(t, fourthErr.Is(ErrBlockNotFound))

	require.Equal(t, "[Registry][10.0.0.1:8333] failed to add address", secondErr.Message())
}

func Test_FmtErrorCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")

	fmtError := fmt.Errorf("error: %w", err)
	require.NotNil(t, fmtError)

	secondErr := New(ERR_INVALID_ARGUMENT, "[Tracker][%s] dispatch failed", "tx", fmtError)

	// fmt wrapped errors lose their code when wrapped again
	require.False(t, secondErr.Is(err))

	altErr := New(ERR_INVALID_ARGUMENT, "invalid argument", err)
	require.True(t, secondErr.Is(altErr))
}

func Test_WrapStandardError(t *testing.T) {
	err := NewNetworkError("[Connection] read failed", io.EOF)

	var tErr *Error
	require.True(t, As(err, &tErr))
	assert.Equal(t, ERR_NETWORK_ERROR, tErr.Code())
	require.NotNil(t, tErr.WrappedErr())
	assert.Contains(t, tErr.Error(), "EOF")
	assert.True(t, Is(err, ErrNetwork))
}

func Test_InvalidCode(t *testing.T) {
	err := New(ERR(9999), "whatever")
	assert.Equal(t, "invalid error code", err.Message())
	assert.Equal(t, "9999", ERR(9999).String())
	assert.Equal(t, "NETWORK_TIMEOUT", ERR_NETWORK_TIMEOUT.String())
}

func Test_WithPeer(t *testing.T) {
	err := WithPeer(NewNetworkInvalidResponseError("bad checksum"), "10.0.0.1:8333")

	var tErr *Error
	require.True(t, As(err, &tErr))
	assert.Equal(t, "10.0.0.1:8333", tErr.Peer())
	assert.Equal(t, ERR_NETWORK_INVALID_RESPONSE, tErr.Code())
	assert.Contains(t, err.Error(), "[peer 10.0.0.1:8333]")
	assert.True(t, IsMaliciousResponseError(err))

	wrapped := NewServiceError("loop stopped", err)
	assert.Equal(t, "10.0.0.1:8333", wrapped.(*Error).Peer())

	plain := WithPeer(io.EOF, "10.0.0.2:8333")
	require.True(t, As(plain, &tErr))
	assert.Equal(t, ERR_NETWORK_ERROR, tErr.Code())
	assert.True(t, Is(plain, io.EOF))

	assert.NoError(t, WithPeer(nil, "10.0.0.3:8333"))
}

func Test_Join(t *testing.T) {
	assert.Nil(t, Join(nil, nil))

	joined := Join(NewNetworkError("first"), nil, NewNetworkTimeoutError("second"))
	require.Error(t, joined)
	assert.Contains(t, joined.Error(), "first")
	assert.Contains(t, joined.Error(), "second")
}

func Test_NilError(t *testing.T) {
	var err *Error

	assert.Equal(t, "<nil>", err.Error())
	assert.Equal(t, ERR_UNKNOWN, err.Code())
	assert.False(t, err.Is(ErrUnknown))
	assert.Nil(t, err.Unwrap())
}
