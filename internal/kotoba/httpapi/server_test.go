package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping() error                 { return f.err }
func (f fakeDB) SchemaVersion() (int, error) { return 3, nil }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestServer(t *testing.T) (*Server, *conversation.Manager, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := conversation.NewManager(conversation.Config{Now: c.Now}, conversation.Deps{})
	d := dispatch.New(dispatch.Config{RatePerMinute: 100}, m, nil, nil, nil)
	return NewServer("", d, m, fakeDB{}, nil), m, c
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func startSession(t *testing.T, s *Server, userID string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/v1/sessions", map[string]any{"user_id": userID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[conversation.Session](t, rec)
	require.NotEmpty(t, sess.ID)
	return sess.ID
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(TraceHeader))
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	startSession(t, s, "u1")

	rec := do(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[statusResponse](t, rec)
	assert.Equal(t, 1, got.ActiveSessions)
	assert.Equal(t, 3, got.SchemaVersion)
	assert.Equal(t, "ok", got.Database)
}

func TestStatus_DatabaseDown(t *testing.T) {
	c := &clock{now: time.Now()}
	m := conversation.NewManager(conversation.Config{Now: c.Now}, conversation.Deps{})
	s := NewServer("", dispatch.New(dispatch.Config{}, m, nil, nil, nil), m, fakeDB{err: errors.New("disk gone")}, nil)

	rec := do(t, s, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[statusResponse](t, rec).Status)
}

func TestStartSession_RequiresUser(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageFlow(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := startSession(t, s, "u1")

	rec := do(t, s, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]any{
		"message": "create project Apollo",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply := decode[dispatch.Reply](t, rec)
	assert.Equal(t, id, reply.SessionID)
	assert.Equal(t, "create_project", reply.Intent.Type)
	assert.Equal(t, rec.Header().Get(TraceHeader), reply.TraceID)

	rec = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/messages", map[string]any{
		"message": "how is it going",
		"intent": map[string]any{
			"intent_type": "check_status",
			"confidence":  0.9,
			"entities":    map[string]any{"project_name": "Apollo"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reply = decode[dispatch.Reply](t, rec)
	assert.Equal(t, "status_inquiry", reply.Context.CurrentTopic)
	assert.Equal(t, 2, reply.Context.TurnCount)

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decode[conversation.Session](t, rec)
	assert.Len(t, sess.Turns, 2)
	assert.Equal(t, []string{"project_creation", "status_inquiry"}, sess.Context.Topics)

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+id+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[conversation.Analytics](t, rec)
	assert.Equal(t, 2, a.TurnCount)
	assert.Equal(t, map[string]int{"create_project": 1, "check_status": 1}, a.IntentDistribution)

	rec = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sug := decode[suggestionsResponse](t, rec)
	assert.NotNil(t, sug.Suggestions)
	assert.LessOrEqual(t, len(sug.Suggestions), conversation.MaxSuggestions)
}

func TestPostMessage_Errors(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := startSession(t, s, "u1")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"unknown session", "/v1/sessions/nope/messages", map[string]any{"message": "hi"}, http.StatusNotFound},
		{"empty message", "/v1/sessions/" + id + "/messages", map[string]any{}, http.StatusBadRequest},
		{"malformed intent", "/v1/sessions/" + id + "/messages", map[string]any{
			"intent": map[string]any{"intent_type": "check_status", "confidence": 7},
		}, http.StatusBadRequest},
		{"other user", "/v1/sessions/" + id + "/messages", map[string]any{"user_id": "u2", "message": "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestPostMessage_InvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := startSession(t, s, "u1")
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/messages", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndSession(t *testing.T) {
	s, m, _ := newTestServer(t)
	id := startSession(t, s, "u1")

	rec := do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[endSessionResponse](t, rec).Ended)
	assert.Equal(t, 0, m.Active())

	rec = do(t, s, http.MethodDelete, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/sessions/"+id+"/suggestions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanup(t *testing.T) {
	s, m, c := newTestServer(t)
	startSession(t, s, "u1")
	startSession(t, s, "u2")

	c.now = c.now.Add(3 * time.Hour)
	rec := do(t, s, http.MethodPost, "/v1/maintenance/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[cleanupResponse](t, rec)
	assert.Equal(t, 2, got.Ended)
	assert.Equal(t, 0, got.Active)
	assert.Equal(t, 0, m.Active())
}

func TestTraceHeaderPropagates(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := startSession(t, s, "u1")

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+id+"/messages", bytes.NewBufferString(`{"message":"status"}`))
	req.Header.Set(TraceHeader, "t_client")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t_client", rec.Header().Get(TraceHeader))
	assert.Equal(t, "t_client", decode[dispatch.Reply](t, rec).TraceID)
}
