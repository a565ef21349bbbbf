package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exam-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// persistedSession leaves an in-progress session in gw that no manager holds.
func persistedSession(t *testing.T, gw *fakeGateway) (model.ExamSet, []model.Question, uuid.UUID) {
	t.Helper()
	set := testExamSet()
	gw.names[set.ID] = set.Name
	qs := testQuestions(4)

	m := newTestManager(gw, nil)
	id, err := m.CreateSession(context.Background(), set, qs, nil, model.TimeModeStandard)
	require.NoError(t, err)
	m.SaveAnswer(qs[0].ID, "A", 10)
	m.UpdateProgress(1, 200)
	require.NoError(t, m.AutoSave(context.Background()))
	m.Close()
	return set, qs, id
}

func TestResumePromptNothingToResume(t *testing.T) {
	m := newTestManager(newFakeGateway(), nil)
	p, err := NewResumePrompt(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestResumePromptLiveSession(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	m := newTestManager(gw, nil)
	defer m.Close()

	qs := testQuestions(3)
	id, err := m.CreateSession(ctx, testExamSet(), qs, nil, model.TimeModeStandard)
	require.NoError(t, err)
	m.SaveAnswer(qs[2].ID, "B", 0)
	m.UpdateProgress(2, 90)

	p, err := NewResumePrompt(ctx, m, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Persisted())

	v := p.View()
	assert.Equal(t, id, v.SessionID)
	assert.Equal(t, "Mock Test 1", v.ExamSetName)
	assert.Equal(t, 2, v.CurrentIndex)
	assert.Equal(t, 3, v.TotalQuestions)
	assert.Equal(t, 1, v.AnsweredCount)
	assert.Equal(t, 90, v.TimeLeft)

	require.NoError(t, p.Resume(ctx))
	assert.Equal(t, DecisionResumed, p.Decision())
	assert.True(t, m.HasActiveSession())

	require.ErrorIs(t, p.StartNew(ctx), ErrPromptResolved)
	assert.True(t, m.HasActiveSession())
}

func TestResumePromptStartNewCancelsLiveSession(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	m := newTestManager(gw, nil)
	defer m.Close()

	id, err := m.CreateSession(ctx, testExamSet(), testQuestions(2), nil, model.TimeModeStandard)
	require.NoError(t, err)

	p, err := NewResumePrompt(ctx, m, nil)
	require.NoError(t, err)
	require.NoError(t, p.StartNew(ctx))

	assert.Equal(t, DecisionStartNew, p.Decision())
	assert.False(t, m.HasActiveSession())
	assert.Equal(t, model.SessionStatusCancelled, gw.record(id).status)
}

func TestResumePromptDismissLeavesSession(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	m := newTestManager(gw, nil)
	defer m.Close()

	_, err := m.CreateSession(ctx, testExamSet(), testQuestions(2), nil, model.TimeModeStandard)
	require.NoError(t, err)

	p, err := NewResumePrompt(ctx, m, nil)
	require.NoError(t, err)
	require.NoError(t, p.Dismiss())
	assert.Equal(t, DecisionDismissed, p.Decision())
	assert.True(t, m.HasActiveSession())
	require.ErrorIs(t, p.Resume(ctx), ErrPromptResolved)
}

func TestResumePromptPersistedSession(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	set, qs, id := persistedSession(t, gw)
	source := &fakeQuestions{
		sets:      map[uuid.UUID]model.ExamSet{set.ID: set},
		questions: map[uuid.UUID][]model.Question{set.ID: qs},
	}

	m := newTestManager(gw, nil)
	defer m.Close()

	p, err := NewResumePrompt(ctx, m, source)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Persisted())
	assert.Equal(t, id, p.View().SessionID)
	assert.Equal(t, 1, p.View().AnsweredCount)
	assert.Equal(t, 200, p.View().TimeLeft)

	require.NoError(t, p.Resume(ctx))
	cur := m.GetCurrentSession()
	require.NotNil(t, cur)
	assert.Equal(t, id, cur.SessionID)
	assert.Equal(t, 1, cur.CurrentIndex)
	assert.Equal(t, 200, cur.TimeLeft)
	assert.Len(t, cur.Questions, 4)
}

func TestResumePromptPersistedFailureStaysPending(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	persistedSession(t, gw)

	m := newTestManager(gw, nil)
	defer m.Close()

	p, err := NewResumePrompt(ctx, m, &fakeQuestions{})
	require.NoError(t, err)

	require.Error(t, p.Resume(ctx))
	assert.Equal(t, DecisionPending, p.Decision())
	assert.False(t, m.HasActiveSession())

	require.NoError(t, p.Dismiss())
}

func TestResumePromptPersistedStartNew(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	_, _, id := persistedSession(t, gw)

	m := newTestManager(gw, nil)
	defer m.Close()

	p, err := NewResumePrompt(ctx, m, nil)
	require.NoError(t, err)
	require.NoError(t, p.StartNew(ctx))
	assert.Equal(t, model.SessionStatusCancelled, gw.record(id).status)

	p, err = NewResumePrompt(ctx, m, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestExitConfirmationWithoutSession(t *testing.T) {
	_, err := NewExitConfirmation(newTestManager(newFakeGateway(), nil))
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestExitConfirmationView(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(newFakeGateway(), nil)
	defer m.Close()

	qs := testQuestions(4)
	_, err := m.CreateSession(ctx, testExamSet(), qs, nil, model.TimeModeStandard)
	require.NoError(t, err)
	m.SaveAnswer(qs[0].ID, "A", 10)
	m.SaveAnswer(qs[1].ID, "B", 10)
	m.SaveAnswer(qs[2].ID, "C", 10)
	m.UpdateProgress(3, 40)

	e, err := NewExitConfirmation(m)
	require.NoError(t, err)

	v := e.View()
	assert.Equal(t, 3, v.CurrentIndex)
	assert.Equal(t, 40, v.TimeLeft)
	assert.Equal(t, 3, v.AnsweredCount)
	assert.Equal(t, 4, v.TotalQuestions)
	assert.Equal(t, 75, v.ProgressPercent)
	require.Len(t, v.Answers, 3)
	assert.Equal(t, qs[0].ID, v.Answers[0].QuestionID)
	assert.Len(t, v.Questions, 4)
}

func TestExitConfirmationConfirm(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	m := newTestManager(gw, nil)
	defer m.Close()

	id, err := m.CreateSession(ctx, testExamSet(), testQuestions(2), nil, model.TimeModeStandard)
	require.NoError(t, err)

	e, err := NewExitConfirmation(m)
	require.NoError(t, err)
	require.NoError(t, e.Confirm(ctx))
	assert.Equal(t, DecisionConfirmed, e.Decision())
	assert.False(t, m.HasActiveSession())
	assert.Equal(t, model.SessionStatusCancelled, gw.record(id).status)

	_, _, _, completes, _ := gw.counts()
	assert.Zero(t, completes)
}

func TestExitConfirmationCancel(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	m := newTestManager(gw, nil)
	defer m.Close()

	_, err := m.CreateSession(ctx, testExamSet(), testQuestions(2), nil, model.TimeModeStandard)
	require.NoError(t, err)

	e, err := NewExitConfirmation(m)
	require.NoError(t, err)
	require.NoError(t, e.Cancel())
	assert.True(t, m.HasActiveSession())
	require.ErrorIs(t, e.Confirm(ctx), ErrPromptResolved)
	assert.True(t, m.HasActiveSession())

	_, _, _, _, cancels := gw.counts()
	assert.Zero(t, cancels)
}
