package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/bishma/internal/models"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAI(Config{
		Provider:   ProviderOpenAI,
		APIKey:     "sk-test",
		BaseURL:    server.URL,
		RetryDelay: time.Millisecond,
	})
}

const toolCallResponse = `{"choices":[{"finish_reason":"tool_calls","message":{"content":null,"tool_calls":[
	{"id":"c1","type":"function","function":{"name":"update_task_state","arguments":"{\"task_description\":\"fix bug\",\"updates\":{\"reach\":500}}"}},
	{"id":"c2","type":"function","function":{"name":"launch_rocket","arguments":"{}"}},
	{"id":"c3","type":"function","function":{"name":"read_from_airtable","arguments":"{\"limit\":3}"}}
]}}]}`

func TestOpenAIExtract(t *testing.T) {
	var sent chatRequest
	extractor := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = w.Write([]byte(toolCallResponse))
	})

	resp, err := extractor.Extract(context.Background(), Request{
		History: []models.Turn{{Role: models.TurnRoleUser, Content: "fix bug affects 500 users"}},
		Digest:  "Session: s1\n",
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Reply)
	require.Len(t, resp.Actions, 2)
	assert.Equal(t, KindCreateOrUpdate, resp.Actions[0].Kind())
	assert.Equal(t, RequestRead{Filter: models.RecordFilter{Limit: 3}}, resp.Actions[1])
	require.Len(t, resp.Rejected, 1)
	assert.Equal(t, "launch_rocket", resp.Rejected[0].Tool)
	assert.True(t, errors.Is(resp.Rejected[0].Err, models.ErrInvalidAction))

	assert.Equal(t, "gpt-4o", sent.Model)
	assert.Equal(t, "auto", sent.ToolChoice)
	assert.Len(t, sent.Tools, 4)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Contains(t, sent.Messages[0].Content, "Session: s1")
	assert.Equal(t, chatMessage{Role: "user", Content: "fix bug affects 500 users"}, sent.Messages[1])
}

func TestOpenAIReplyText(t *testing.T) {
	extractor := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  One mountain at a time. "}}]}`))
	})
	resp, err := extractor.Extract(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "One mountain at a time.", resp.Reply)
	assert.Empty(t, resp.Actions)
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	extractor := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	resp, err := extractor.Extract(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	extractor := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided: sk-abcdefghijklmnopqrstuvwx","type":"invalid_request_error"}}`))
	})
	_, err := extractor.Extract(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))
	assert.NotContains(t, err.Error(), "sk-abcdefghijklmnopqrstuvwx")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAINoChoices(t *testing.T) {
	extractor := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := extractor.Extract(context.Background(), Request{})
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))
}

func TestNew(t *testing.T) {
	ex, err := New(Config{Provider: ProviderNone})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), Request{})
	assert.True(t, errors.Is(err, models.ErrCollaboratorUnavailable))

	_, err = New(Config{Provider: ProviderOpenAI})
	assert.Error(t, err)

	_, err = New(Config{Provider: "claude"})
	assert.Error(t, err)

	ex, err = New(Config{Provider: ProviderOpenAI, APIKey: "sk-x"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, ex)
}

func TestOpenAITestConnection(t *testing.T) {
	ok := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	assert.True(t, ok.TestConnection(context.Background()))

	denied := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.False(t, denied.TestConnection(context.Background()))

	var checker Checker = Unavailable{}
	assert.False(t, checker.TestConnection(context.Background()))
}
