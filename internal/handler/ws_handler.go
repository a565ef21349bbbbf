package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/middleware"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/response"
	"github.com/stemsi/exam-session/internal/service"
	"github.com/stemsi/exam-session/internal/validator"
	ws "github.com/stemsi/exam-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams answer and progress updates for the live session.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/stream
// Upgrades to WebSocket for answer and progress updates. Closing the socket
// counts as leaving the page and flushes the session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	userID := claims.UserID

	// Reject before upgrading so the client gets a proper status code.
	if h.sessionService.Current(userID) == nil {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int("user_id", userID).Logger()
	wsLog.Info().Msg("Client connected")

	// Flushes started from this socket stop once the client is gone.
	ctx := c.Request.Context()

	defer func() {
		h.sessionService.FlushOnTeardown(userID)
		wsLog.Info().Msg("Client disconnected")
	}()

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, userID, &msg)
		case ws.ActionProgress:
			h.handleProgress(conn, userID, &msg)
		case ws.ActionPause:
			h.reply(conn, h.sessionService.SetPaused(userID, msg.Paused), ws.EventSuccess, gin.H{"paused": msg.Paused})
		case ws.ActionAutosave:
			err := h.sessionService.AutoSave(ctx, userID)
			if err != nil {
				wsLog.Error().Err(err).Msg("Autosave failed")
			}
			h.reply(conn, err, ws.EventSaved, gin.H{"status": "saved"})
		case ws.ActionPing:
			ws.WriteJSON(conn, ws.EventPong, nil)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *websocket.Conn, userID int, msg *ws.RequestPayload) {
	qid, err := uuid.Parse(msg.QID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID))
		return
	}
	req := model.SaveAnswerRequest{
		QuestionID:  qid,
		Answer:      msg.Answer,
		TimeSpentMs: max(msg.TimeSpentMs, 0),
	}
	if fields := validator.Validate(&req); fields != nil {
		h.log.Debug().Int("user_id", userID).Interface("fields", fields).Msg("Answer rejected")
		ws.WriteError(conn, string(response.ErrValidation))
		return
	}
	err = h.sessionService.SaveAnswer(userID, req)
	h.reply(conn, err, ws.EventSuccess, gin.H{"q_id": qid})
}

func (h *WSHandler) handleProgress(conn *websocket.Conn, userID int, msg *ws.RequestPayload) {
	err := h.sessionService.UpdateProgress(userID, model.UpdateProgressRequest{
		CurrentIndex: msg.CurrentIndex,
		TimeLeft:     msg.TimeLeft,
	})
	h.reply(conn, err, ws.EventSuccess, gin.H{"current_index": msg.CurrentIndex, "time_left": msg.TimeLeft})
}

// reply writes data on success and the mapped error code otherwise.
func (h *WSHandler) reply(conn *websocket.Conn, err error, event ws.Event, data any) {
	if err != nil {
		_, code := errorStatus(err)
		ws.WriteError(conn, string(code))
		return
	}
	ws.WriteJSON(conn, event, data)
}
