package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/middleware"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/response"
	"github.com/stemsi/exam-session/internal/service"
	"github.com/stemsi/exam-session/internal/session"
	"github.com/stemsi/exam-session/internal/validator"
)

// SessionHandler handles the exam session endpoints of the signed-in user.
type SessionHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// CreateSession godoc
// POST /api/v1/sessions
// Starts a session on an exam set. Fails if one is already running.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.sessionService.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": view})
}

// GetCurrentSession godoc
// GET /api/v1/sessions/current
// Returns the live session, or null.
func (h *SessionHandler) GetCurrentSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": h.sessionService.Current(claims.UserID)})
}

// SaveAnswer godoc
// PUT /api/v1/sessions/current/answers
// Records an answer in memory. It reaches the store on the next auto-save.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.SaveAnswer(claims.UserID, req); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question_id": req.QuestionID})
}

// UpdateProgress godoc
// PUT /api/v1/sessions/current/progress
// Records the cursor and the remaining time reported by the client timer.
func (h *SessionHandler) UpdateProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UpdateProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.UpdateProgress(claims.UserID, req); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": h.sessionService.Current(claims.UserID)})
}

// AutoSave godoc
// POST /api/v1/sessions/current/autosave
// Flushes the live session to the store now.
func (h *SessionHandler) AutoSave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.AutoSave(c.Request.Context(), claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"saved": true})
}

// CompleteSession godoc
// POST /api/v1/sessions/current/complete
// Scores the live session and finalizes it.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	result, err := h.sessionService.Complete(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// CancelSession godoc
// POST /api/v1/sessions/current/cancel
// Abandons the live session without scoring. No-op without one.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.Cancel(c.Request.Context(), claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// GetResumePrompt godoc
// GET /api/v1/sessions/resume-prompt
// Returns the session that can be resumed, or null.
func (h *SessionHandler) GetResumePrompt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.OpenResumePrompt(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"prompt": view})
}

// Resume godoc
// POST /api/v1/sessions/resume-prompt/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.Resume(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// StartNew godoc
// POST /api/v1/sessions/resume-prompt/start-new
func (h *SessionHandler) StartNew(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.StartNew(c.Request.Context(), claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// GetExitConfirmation godoc
// GET /api/v1/sessions/exit-confirmation
func (h *SessionHandler) GetExitConfirmation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.sessionService.OpenExitConfirmation(claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"confirmation": view})
}

// ConfirmExit godoc
// POST /api/v1/sessions/exit-confirmation/confirm
func (h *SessionHandler) ConfirmExit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.ConfirmExit(c.Request.Context(), claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// DismissExit godoc
// POST /api/v1/sessions/exit-confirmation/dismiss
func (h *SessionHandler) DismissExit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessionService.DismissExit(claims.UserID); err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"dismissed": true})
}

// fail maps domain errors onto response codes.
func (h *SessionHandler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func errorStatus(err error) (int, response.ErrCode) {
	switch {
	// AlreadyActive first: the store reports it wrapped in a persistence error.
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict, response.ErrSessionActive
	case errors.Is(err, session.ErrNoActiveSession):
		return http.StatusNotFound, response.ErrNoActiveSession
	case errors.Is(err, service.ErrNothingToResume):
		return http.StatusNotFound, response.ErrNothingToResume
	case errors.Is(err, service.ErrExamSetNotFound):
		return http.StatusNotFound, response.ErrExamSetNotFound
	case errors.Is(err, session.ErrPromptResolved):
		return http.StatusConflict, response.ErrPromptResolved
	case errors.Is(err, session.ErrAlreadyFinalized):
		return http.StatusConflict, response.ErrSessionFinal
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest, response.ErrInvalidPayload
	case errors.Is(err, session.ErrPersistence):
		return http.StatusServiceUnavailable, response.ErrPersistence
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
