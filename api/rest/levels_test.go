package rest_test

import (
	"net/http"
	"testing"

	"github.com/physquest/server/game/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels_ListByTier(t *testing.T) {
	e := newEnv(t)
	w := e.get("/api/levels?tier=gcse&kind=level")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	want := len(e.catalog.List(level.TierGCSE, level.KindLevel))
	assert.EqualValues(t, want, resp["count"])
	assert.Len(t, resp["levels"], want)

	assert.Equal(t, http.StatusBadRequest, e.get("/api/levels?tier=university").Code)
	assert.Equal(t, http.StatusBadRequest, e.get("/api/levels?kind=boss").Code)
}

func TestLevels_GetHidesAnswers(t *testing.T) {
	e := newEnv(t)
	w := e.get("/api/levels/gcse3")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "89750N", "options are public")
	assert.NotContains(t, body, `"answer"`)

	assert.Equal(t, http.StatusNotFound, e.get("/api/levels/gcse99").Code)
}

func TestLevels_SubmitAndProgress(t *testing.T) {
	e := newEnv(t)
	_, auth := e.signup(t, "alice")

	w := e.postJSON("/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{2, 4}}, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, false, resp["correct"])
	assert.EqualValues(t, 1, resp["attempts"])

	w = e.postJSON("/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{0, 1}}, auth...)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.Equal(t, true, resp["correct"])
	assert.Equal(t, true, resp["just_completed"])
	assert.EqualValues(t, 90, resp["score"])

	w = e.get("/api/progress", auth...)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode(t, w)["summary"].(map[string]interface{})
	assert.EqualValues(t, 1, summary["gcse"])
	assert.EqualValues(t, 90, summary["total_score"])
}

func TestLevels_SubmitErrors(t *testing.T) {
	e := newEnv(t)
	_, auth := e.signup(t, "alice")

	assert.Equal(t, http.StatusUnauthorized,
		e.postJSON("/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{0, 1}}).Code)
	assert.Equal(t, http.StatusNotFound,
		e.postJSON("/api/levels/nope/stages/resistors/submit", map[string]interface{}{}, auth...).Code)
	assert.Equal(t, http.StatusNotFound,
		e.postJSON("/api/levels/gcse1/stages/nope/submit", map[string]interface{}{}, auth...).Code)

	w := e.postJSON("/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{0, 0}}, auth...)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLevels_Complete(t *testing.T) {
	e := newEnv(t)
	_, auth := e.signup(t, "alice")

	w := e.postJSON("/api/levels/gcse1/complete", map[string]interface{}{"event": "wrong_event"}, auth...)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.postJSON("/api/levels/gcse1/complete", map[string]interface{}{"event": "level_complete_gcse1", "elapsed_ms": 5000}, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["just_completed"])

	w = e.postJSON("/api/levels/gcse1/complete", map[string]interface{}{"event": "level_complete_gcse1"}, auth...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["just_completed"])
}

func TestLevels_SubmitBadInputMessages(t *testing.T) {
	e := newEnv(t)
	_, auth := e.signup(t, "alice")

	w := e.postJSON("/api/levels/gcse8/stages/basic/submit", map[string]interface{}{"answer": "six"}, auth...)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Enter a valid number.", decode(t, w)["error"])

	w = e.postJSON("/api/levels/gcse8/stages/basic/submit", map[string]interface{}{"answer": "6 NM"}, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["correct"])

	w = e.postJSON("/api/levels/gcse5/stages/challenge1/submit", map[string]interface{}{}, auth...)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Choose a launch angle.", decode(t, w)["error"])
}

func TestProgress_CompleteByEvent(t *testing.T) {
	e := newEnv(t)
	_, auth := e.signup(t, "alice")

	w := e.postJSON("/api/progress/events", map[string]interface{}{"event": "minigame_complete_4", "elapsed_ms": 3000}, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "minigame4", resp["level"])
	assert.Equal(t, true, resp["just_completed"])

	assert.Equal(t, http.StatusNotFound,
		e.postJSON("/api/progress/events", map[string]interface{}{"event": "level_complete_nowhere"}, auth...).Code)
	assert.Equal(t, http.StatusBadRequest, e.postJSON("/api/progress/events", map[string]interface{}{}, auth...).Code)
	assert.Equal(t, http.StatusUnauthorized,
		e.postJSON("/api/progress/events", map[string]interface{}{"event": "minigame_complete_4"}).Code)
}
