package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindMapping(t *testing.T) {
	tests := []struct {
		err    error
		kind   Kind
		code   string
		status int
	}{
		{Authentication("no token provided"), KindAuthentication, "AUTHENTICATION_ERROR", http.StatusUnauthorized},
		{Authorization("Access denied"), KindAuthorization, "AUTHORIZATION_ERROR", http.StatusForbidden},
		{Validation("Invalid status"), KindValidation, "VALIDATION_ERROR", http.StatusBadRequest},
		{NotFound("Chat not found"), KindNotFound, "NOT_FOUND", http.StatusNotFound},
		{State("Conversation inactive"), KindState, "STATE_ERROR", http.StatusConflict},
		{errors.New("boom"), KindInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		require.Equal(t, tt.kind, KindOf(tt.err))
		require.Equal(t, tt.code, Code(tt.err))
		require.Equal(t, tt.status, HTTPStatus(tt.err))
	}
}

func TestWrapPreservesKindThroughChains(t *testing.T) {
	cause := errors.New("signature mismatch")
	err := Wrap(KindAuthentication, "invalid token", cause)

	wrapped := fmt.Errorf("handling event: %w", err)
	require.Equal(t, KindAuthentication, KindOf(wrapped))
	require.Equal(t, "invalid token", Message(wrapped))
	require.ErrorIs(t, wrapped, cause)
}

func TestMessageHidesInternals(t *testing.T) {
	require.Equal(t, "internal server error", Message(errors.New("dial tcp: connection refused")))
}
