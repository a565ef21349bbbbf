package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stemsi/exam-session/internal/response"
	"github.com/stemsi/exam-session/internal/service"
	"github.com/stemsi/exam-session/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"already active from store", &session.PersistenceError{Op: "create_session", Err: session.ErrAlreadyActive}, http.StatusConflict, response.ErrSessionActive},
		{"no session", session.ErrNoActiveSession, http.StatusNotFound, response.ErrNoActiveSession},
		{"nothing to resume", service.ErrNothingToResume, http.StatusNotFound, response.ErrNothingToResume},
		{"prompt resolved", session.ErrPromptResolved, http.StatusConflict, response.ErrPromptResolved},
		{"finalized elsewhere", fmt.Errorf("session x is CANCELLED: %w", session.ErrAlreadyFinalized), http.StatusConflict, response.ErrSessionFinal},
		{"invalid input", session.ErrInvalidInput, http.StatusBadRequest, response.ErrInvalidPayload},
		{"store down", &session.PersistenceError{Op: "upsert_answers", Err: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, response.ErrPersistence},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
