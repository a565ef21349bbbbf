package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/budget"
	"github.com/stemsi/exam-session/internal/config"
	"github.com/stemsi/exam-session/internal/handler"
	"github.com/stemsi/exam-session/internal/middleware"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stemsi/exam-session/internal/response"
	"github.com/stemsi/exam-session/internal/service"
	"github.com/stemsi/exam-session/internal/session"
	"github.com/stemsi/exam-session/internal/session/sessiontest"
	"github.com/stemsi/exam-session/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type testAPI struct {
	t        *testing.T
	router   *gin.Engine
	auth     *service.AuthService
	gw       *sessiontest.Gateway
	bank     *sessiontest.Questions
	registry *session.Registry
	dbDown   error
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: "test-secret", JWTExpiry: time.Hour}
	auth := service.NewAuthService(cfg)

	gw := sessiontest.NewGateway()
	bank := sessiontest.NewQuestions()
	calc := budget.NewCalculator(budget.Table{DefaultSeconds: 60})
	registry := session.NewRegistry(gw, calc, zerolog.Nop(), session.Options{AutosaveInterval: time.Hour})
	t.Cleanup(registry.Close)

	api := &testAPI{t: t, auth: auth, gw: gw, bank: bank, registry: registry}
	svc := service.NewExamSessionService(registry, bank, zerolog.Nop())
	deps := map[string]handler.Pinger{
		"postgres": handler.PingFunc(func(context.Context) error { return api.dbDown }),
	}
	api.router = SetupRouter(auth, middleware.NewRateLimiter(1000, time.Minute), &Handlers{
		Session: handler.NewSessionHandler(svc, zerolog.Nop()),
		WS:      handler.NewWSHandler(svc, zerolog.Nop(), nil),
		System:  handler.NewSystemHandler(deps, registry, zerolog.Nop()),
	}, cfg)
	return api
}

func (a *testAPI) token(userID int) string {
	a.t.Helper()
	tok, err := a.auth.GenerateUserToken(userID)
	require.NoError(a.t, err)
	return tok
}

func (a *testAPI) do(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func errorCode(env envelope) response.ErrCode {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	set, qs := api.bank.Add("Mock Test 1", 5)
	tok := api.token(7)

	status, env := api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{
		"exam_set_id": set.ID, "time_mode": "standard",
	})
	require.Equal(t, http.StatusCreated, status, string(env.Data))
	created := decode[struct {
		Session session.SessionView `json:"session"`
	}](t, env.Data)
	assert.Equal(t, 300, created.Session.TimeLeft)
	assert.Equal(t, 5, created.Session.TotalQuestions)

	status, env = api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{
		"exam_set_id": set.ID, "time_mode": "standard",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.ErrSessionActive, errorCode(env))

	status, _ = api.do(http.MethodPut, "/api/v1/sessions/current/answers", tok, gin.H{
		"question_id": qs[0].ID, "answer": "A", "time_spent_ms": 1200,
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(http.MethodPut, "/api/v1/sessions/current/answers", tok, gin.H{
		"question_id": qs[1].ID, "answer": "A",
	})
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodPut, "/api/v1/sessions/current/progress", tok, gin.H{
		"current_index": 2, "time_left": 180,
	})
	require.Equal(t, http.StatusOK, status)
	progressed := decode[struct {
		Session session.SessionView `json:"session"`
	}](t, env.Data)
	assert.Equal(t, 2, progressed.Session.CurrentIndex)
	assert.Equal(t, 2, progressed.Session.AnsweredCount)

	status, _ = api.do(http.MethodPost, "/api/v1/sessions/current/autosave", tok, nil)
	require.Equal(t, http.StatusOK, status)
	rec, ok := api.gw.Record(created.Session.SessionID)
	require.True(t, ok)
	assert.Len(t, rec.Answers, 2)
	assert.Equal(t, 180, rec.Snapshot.TimeLeft)

	status, env = api.do(http.MethodPost, "/api/v1/sessions/current/complete", tok, nil)
	require.Equal(t, http.StatusOK, status)
	result := decode[struct {
		Result model.SessionResult `json:"result"`
	}](t, env.Data)
	assert.Equal(t, 2, result.Result.CorrectAnswers)
	assert.Equal(t, 40, result.Result.Score)
	assert.Equal(t, 120, result.Result.TimeSpentSeconds)

	status, env = api.do(http.MethodGet, "/api/v1/sessions/current", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"session":null}`, string(env.Data))

	status, env = api.do(http.MethodPost, "/api/v1/sessions/current/complete", tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrNoActiveSession, errorCode(env))
}

func TestCreateSessionRejectsBadRequests(t *testing.T) {
	api := newTestAPI(t)
	set, _ := api.bank.Add("Mock Test 1", 3)
	tok := api.token(7)

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   response.ErrCode
	}{
		{"unknown time mode", gin.H{"exam_set_id": set.ID, "time_mode": "relaxed"}, http.StatusBadRequest, response.ErrValidation},
		{"missing exam set", gin.H{"time_mode": "standard"}, http.StatusBadRequest, response.ErrValidation},
		{"part out of range", gin.H{"exam_set_id": set.ID, "time_mode": "standard", "selected_parts": []int{0}}, http.StatusBadRequest, response.ErrValidation},
		{"exam set not found", gin.H{"exam_set_id": uuid.New(), "time_mode": "standard"}, http.StatusNotFound, response.ErrExamSetNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := api.do(http.MethodPost, "/api/v1/sessions", tok, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errorCode(env))
		})
	}
}

func TestSessionRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	status, env := api.do(http.MethodGet, "/api/v1/sessions/current", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.ErrTokenRequired, errorCode(env))
}

func TestMutationsWithoutSession(t *testing.T) {
	api := newTestAPI(t)
	tok := api.token(7)

	status, env := api.do(http.MethodPut, "/api/v1/sessions/current/answers", tok, gin.H{"question_id": uuid.New(), "answer": "B"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrNoActiveSession, errorCode(env))

	status, _ = api.do(http.MethodPost, "/api/v1/sessions/current/cancel", tok, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodGet, "/api/v1/sessions/exit-confirmation", tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrNoActiveSession, errorCode(env))
}

func TestAutoSaveFailureMapsToPersistenceError(t *testing.T) {
	api := newTestAPI(t)
	set, qs := api.bank.Add("Mock Test 1", 2)
	tok := api.token(7)

	status, _ := api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{"exam_set_id": set.ID, "time_mode": "standard"})
	require.Equal(t, http.StatusCreated, status)
	status, _ = api.do(http.MethodPut, "/api/v1/sessions/current/answers", tok, gin.H{"question_id": qs[0].ID, "answer": "A"})
	require.Equal(t, http.StatusOK, status)

	api.gw.SetFail(errors.New("connection refused"))
	status, env := api.do(http.MethodPost, "/api/v1/sessions/current/autosave", tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, response.ErrPersistence, errorCode(env))

	api.gw.SetFail(nil)
	status, _ = api.do(http.MethodPost, "/api/v1/sessions/current/autosave", tok, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestResumePromptOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	set, _ := api.bank.Add("Mock Test 1", 4)
	tok := api.token(7)

	status, env := api.do(http.MethodGet, "/api/v1/sessions/resume-prompt", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"prompt":null}`, string(env.Data))

	status, env = api.do(http.MethodPost, "/api/v1/sessions/resume-prompt/resume", tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.ErrNothingToResume, errorCode(env))

	status, _ = api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{"exam_set_id": set.ID, "time_mode": "unlimited"})
	require.Equal(t, http.StatusCreated, status)

	status, env = api.do(http.MethodGet, "/api/v1/sessions/resume-prompt", tok, nil)
	require.Equal(t, http.StatusOK, status)
	prompt := decode[struct {
		Prompt session.ResumeView `json:"prompt"`
	}](t, env.Data)
	assert.Equal(t, "Mock Test 1", prompt.Prompt.ExamSetName)
	assert.Equal(t, 4, prompt.Prompt.TotalQuestions)
	assert.Equal(t, model.UnlimitedTime, prompt.Prompt.TimeLeft)

	status, _ = api.do(http.MethodPost, "/api/v1/sessions/resume-prompt/resume", tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodPost, "/api/v1/sessions/resume-prompt/start-new", tok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.ErrPromptResolved, errorCode(env))

	status, _ = api.do(http.MethodGet, "/api/v1/sessions/resume-prompt", tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(http.MethodPost, "/api/v1/sessions/resume-prompt/start-new", tok, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodGet, "/api/v1/sessions/current", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"session":null}`, string(env.Data))
}

func TestExitConfirmationOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	set, qs := api.bank.Add("Mock Test 1", 4)
	tok := api.token(7)

	status, env := api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{"exam_set_id": set.ID, "time_mode": "standard"})
	require.Equal(t, http.StatusCreated, status)
	created := decode[struct {
		Session session.SessionView `json:"session"`
	}](t, env.Data)
	status, _ = api.do(http.MethodPut, "/api/v1/sessions/current/answers", tok, gin.H{"question_id": qs[3].ID, "answer": "C"})
	require.Equal(t, http.StatusOK, status)

	status, env = api.do(http.MethodGet, "/api/v1/sessions/exit-confirmation", tok, nil)
	require.Equal(t, http.StatusOK, status)
	exit := decode[struct {
		Confirmation session.ExitView `json:"confirmation"`
	}](t, env.Data)
	assert.Equal(t, 25, exit.Confirmation.ProgressPercent)
	assert.Equal(t, 1, exit.Confirmation.AnsweredCount)

	status, _ = api.do(http.MethodPost, "/api/v1/sessions/exit-confirmation/dismiss", tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = api.do(http.MethodPost, "/api/v1/sessions/exit-confirmation/confirm", tok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.ErrPromptResolved, errorCode(env))

	status, _ = api.do(http.MethodGet, "/api/v1/sessions/exit-confirmation", tok, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(http.MethodPost, "/api/v1/sessions/exit-confirmation/confirm", tok, nil)
	require.Equal(t, http.StatusOK, status)

	rec, ok := api.gw.Record(created.Session.SessionID)
	require.True(t, ok)
	assert.Equal(t, model.SessionStatusCancelled, rec.Status)
	assert.Zero(t, rec.Score)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"postgres":"up"`)

	api.dbDown = errors.New("dial tcp: connection refused")
	status, env = api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(env.Data), `"postgres":"down"`)
}

func TestSessionStream(t *testing.T) {
	api := newTestAPI(t)
	set, qs := api.bank.Add("Mock Test 1", 3)
	tok := api.token(7)

	srv := httptest.NewServer(api.router)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/sessions/stream?token=" + tok

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, env := api.do(http.MethodPost, "/api/v1/sessions", tok, gin.H{"exam_set_id": set.ID, "time_mode": "standard"})
	require.Equal(t, http.StatusCreated, status)
	created := decode[struct {
		Session session.SessionView `json:"session"`
	}](t, env.Data)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	type frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	send := func(v any) frame {
		t.Helper()
		require.NoError(t, conn.WriteJSON(v))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, "pong", send(gin.H{"action": "ping"}).Event)
	assert.Equal(t, "success", send(gin.H{"action": "answer", "q_id": qs[0].ID, "ans": "A", "time_spent_ms": 900}).Event)
	assert.Equal(t, "success", send(gin.H{"action": "progress", "current_index": 1, "time_left": 150}).Event)

	bad := send(gin.H{"action": "answer", "q_id": "not-a-uuid", "ans": "A"})
	assert.Equal(t, "error", bad.Event)
	assert.Equal(t, string(response.ErrInvalidID), bad.Error)

	unknown := send(gin.H{"action": "submit"})
	assert.Equal(t, "error", unknown.Event)

	long := send(gin.H{"action": "answer", "q_id": qs[1].ID, "ans": strings.Repeat("x", 2001)})
	assert.Equal(t, "error", long.Event)
	assert.Equal(t, string(response.ErrValidation), long.Error)
	assert.Equal(t, 1, api.registry.Manager(7).GetCurrentSession().Answers.Len())

	assert.Equal(t, "saved", send(gin.H{"action": "autosave"}).Event)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool {
		rec, ok := api.gw.Record(created.Session.SessionID)
		return ok && len(rec.Answers) == 1 && rec.Snapshot.TimeLeft == 150
	}, 2*time.Second, 10*time.Millisecond)

	// Teardown flushes but keeps the session live.
	assert.Equal(t, 1, api.registry.ActiveCount())
}
