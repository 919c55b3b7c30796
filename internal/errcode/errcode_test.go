package errcode

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", Unauthorized("missing key"), http.StatusUnauthorized},
		{"forbidden", Forbidden("admin only"), http.StatusForbidden},
		{"invalid", InvalidArgument("bad %s", "user_id"), http.StatusBadRequest},
		{"not found", NotFound("no archive"), http.StatusNotFound},
		{"rate limited", RateLimited("slow down"), http.StatusTooManyRequests},
		{"storage", Storage("write failed", io.ErrShortWrite), http.StatusInternalServerError},
		{"wrapped storage", errors.Wrap(Storage("write failed", nil), "add memory"), http.StatusInternalServerError},
		{"wrapped invalid", fmt.Errorf("outer: %w", InvalidArgument("x")), http.StatusBadRequest},
		{"plain error", io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Storage("write failed", io.ErrShortWrite).WithContext("user_id", "u1")
	assert.Equal(t, "[STORAGE_ERROR] write failed: short write", err.Error())
	assert.Equal(t, "u1", err.Context["user_id"])
	assert.ErrorIs(t, err, io.ErrShortWrite)

	assert.Equal(t, "[UNAUTHORIZED] missing key", Unauthorized("missing key").Error())
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(errors.Wrap(InvalidArgument("x"), "ctx"), CodeInvalidArgument))
	assert.False(t, IsCode(nil, CodeInternal))
	assert.Equal(t, CodeInternal, CodeOf(io.EOF))
}
