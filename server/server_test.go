package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatui/chat"
	"chatui/db"
	"chatui/llm"
	"chatui/metrics"
	"chatui/settings"
	"chatui/utils"
)

type fakeProvider struct {
	kind llm.ProviderKind

	mu     sync.Mutex
	reply  string
	err    error
	calls  [][]llm.Message
	models func() llm.ModelList
}

func (f *fakeProvider) Kind() llm.ProviderKind { return f.kind }

func (f *fakeProvider) Complete(ctx context.Context, messages []llm.Message, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]llm.Message(nil), messages...))
	return f.reply, f.err
}

func (f *fakeProvider) ListModels(ctx context.Context) llm.ModelList {
	if f.models != nil {
		return f.models()
	}
	return llm.ModelList{Models: []string{string(f.kind) + "-model"}}
}

type testServer struct {
	server    *Server
	db        *db.DB
	providers map[llm.ProviderKind]*fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cipher, err := utils.NewCipher("test-secret")
	require.NoError(t, err)
	logger := utils.NopLogger()
	store := settings.NewStore(database, cipher, logger, settings.Defaults{OllamaBaseURL: llm.DefaultOllamaBaseURL})

	ts := &testServer{db: database, providers: map[llm.ProviderKind]*fakeProvider{}}
	registry := llm.NewRegistry(llm.Config{})
	for _, kind := range llm.Kinds() {
		fake := &fakeProvider{kind: kind, reply: "reply from " + string(kind)}
		ts.providers[kind] = fake
		registry.Register(kind, func(llm.Config) llm.Provider { return fake })
	}

	m := metrics.New()
	svc := chat.NewService(database, store, registry, m, logger, chat.Options{})
	ts.server = NewServer(utils.ServerConfig{}, database, svc, store, m, logger)
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/conversations", `{"title":"Test","provider":"anthropic","model":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decode[db.Conversation](t, rec)
	assert.Equal(t, "Test", conv.Title)
	assert.Equal(t, "anthropic", conv.Provider)
	assert.Equal(t, "m1", conv.Model)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = ts.do(t, http.MethodPut, "/api/conversations/"+itoa(conv.ID), `{"title":"Renamed","provider":"ollama","model":"llama2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Conversation updated successfully", decode[messageResponse](t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]db.Conversation](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, "Renamed", convs[0].Title)
	assert.Equal(t, "ollama", convs[0].Provider)

	rec = ts.do(t, http.MethodDelete, "/api/conversations/"+itoa(conv.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Conversation deleted successfully", decode[messageResponse](t, rec).Message)

	rec = ts.do(t, http.MethodDelete, "/api/conversations/"+itoa(conv.ID), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Code)
}

func TestCreateConversationDefaults(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/conversations", `{"title":"Defaults"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decode[db.Conversation](t, rec)
	assert.Equal(t, "openai", conv.Provider)
	assert.Equal(t, "gpt-3.5-turbo", conv.Model)
}

func TestConversationErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"update unknown", http.MethodPut, "/api/conversations/999", `{"title":"x","provider":"openai","model":"m"}`, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodDelete, "/api/conversations/abc", "", http.StatusBadRequest, "validation_error"},
		{"missing title", http.MethodPost, "/api/conversations", `{"provider":"openai"}`, http.StatusBadRequest, "validation_error"},
		{"unsupported provider", http.MethodPost, "/api/conversations", `{"title":"x","provider":"cohere"}`, http.StatusBadRequest, "unsupported_provider"},
		{"malformed body", http.MethodPost, "/api/conversations", `{"title":`, http.StatusBadRequest, "validation_error"},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound, "http_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestDeleteAllConversations(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		conv, err := ts.db.CreateConversation(ctx, title, "openai", "m")
		require.NoError(t, err)
		_, err = ts.db.CreateMessage(ctx, db.NewMessage{ConversationID: conv.ID, Role: "user", Content: "hi"})
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodDelete, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[deleteAllResponse](t, rec)
	assert.Equal(t, "All conversations deleted successfully", resp.Message)
	assert.EqualValues(t, 2, resp.DeletedConversations)
	assert.EqualValues(t, 2, resp.DeletedMessages)
}

func TestMessagesEndpoints(t *testing.T) {
	ts := newTestServer(t)
	conv, err := ts.db.CreateConversation(context.Background(), "Test", "openai", "m")
	require.NoError(t, err)
	target := "/api/conversations/" + itoa(conv.ID) + "/messages"

	rec := ts.do(t, http.MethodPost, target, `{"role":"user","content":"first"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, target, `{"role":"assistant","content":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, target, `{"role":"tool","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/conversations/999/messages", `{"role":"user","content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]db.Message](t, rec)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestChatTurn(t *testing.T) {
	ts := newTestServer(t)
	conv, err := ts.db.CreateConversation(context.Background(), "Test", "anthropic", "m1")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/chat", `{"content":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	turn := decode[chat.Turn](t, rec)
	assert.Equal(t, "hi", turn.UserMessage.Content)
	assert.Equal(t, "reply from anthropic", turn.AssistantMessage.Content)

	fake := ts.providers[llm.Anthropic]
	require.Len(t, fake.calls, 1)
	assert.Equal(t, []llm.Message{{Role: "user", Content: "hi"}}, fake.calls[0])
}

func TestChatTurnProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.providers[llm.OpenAI].err = &llm.ProviderError{Provider: llm.OpenAI, StatusCode: 502, Message: "upstream down"}
	conv, err := ts.db.CreateConversation(context.Background(), "Test", "openai", "m")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/chat", `{"content":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "provider_error", body.Code)
	assert.Equal(t, chat.StepCallProvider, body.Step)

	msgs, err := ts.db.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
}

func TestStatelessChat(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}],"provider":"ollama","model":"llama2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "reply from ollama", decode[chatResponse](t, rec).Content)

	rec = ts.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}],"provider":"cohere"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_provider", decode[errorBody](t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"robot","content":"hi"}],"provider":"ollama"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode[errorBody](t, rec).Code)

	ts.providers[llm.OpenAI].err = &llm.AuthError{Provider: llm.OpenAI}
	rec = ts.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}],"provider":"openai"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "auth_error", decode[errorBody](t, rec).Code)
}

func TestProviderNamesIgnoreCase(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}],"provider":"OpenAI","model":"gpt-4"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "reply from openai", decode[chatResponse](t, rec).Content)

	rec = ts.do(t, http.MethodGet, "/api/models/OpenAI", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"openai-model"}, decode[llm.ModelList](t, rec).Models)

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatui_chat_latency_seconds_count{provider="openai"} 1`)
}

func TestSettingsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/settings", `{"openai_api_key":"sk-test","default_provider":"anthropic","default_model":"claude-3-haiku-20240307"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Settings saved successfully", decode[messageResponse](t, rec).Message)

	stored, err := ts.db.GetSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.OpenAIAPIKey, utils.EncryptedPrefix))

	rec = ts.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[db.Settings](t, rec)
	assert.Equal(t, "sk-test", got.OpenAIAPIKey)
	assert.Equal(t, "anthropic", got.DefaultProvider)

	rec = ts.do(t, http.MethodPost, "/api/conversations", `{"title":"Uses defaults"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[db.Conversation](t, rec)
	assert.Equal(t, "anthropic", conv.Provider)
	assert.Equal(t, "claude-3-haiku-20240307", conv.Model)

	rec = ts.do(t, http.MethodPost, "/api/settings", `{"default_provider":"cohere"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.providers[llm.Ollama].models = func() llm.ModelList {
		return llm.ModelList{Models: []string{"llama2"}, Fallback: true}
	}

	rec := ts.do(t, http.MethodGet, "/api/models/ollama", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[llm.ModelList](t, rec)
	assert.Equal(t, []string{"llama2"}, list.Models)
	assert.True(t, list.Fallback)

	rec = ts.do(t, http.MethodGet, "/api/models/cohere", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[map[string]llm.ModelList](t, rec)
	assert.Len(t, all, 3)
	assert.Equal(t, []string{"openai-model"}, all["openai"].Models)
	assert.True(t, all["ollama"].Fallback)
}

func TestGenerateTitleEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.providers[llm.OpenAI].reply = `"Go Generics"`
	ctx := context.Background()
	conv, err := ts.db.CreateConversation(ctx, "New Chat", "openai", "m")
	require.NoError(t, err)
	_, err = ts.db.CreateMessage(ctx, db.NewMessage{ConversationID: conv.ID, Role: "user", Content: "explain generics"})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/conversations/"+itoa(conv.ID)+"/title", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Go Generics", decode[db.Conversation](t, rec).Title)
}

func TestExportAndImport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	conv, err := ts.db.CreateConversation(ctx, "Exported", "openai", "gpt-4")
	require.NoError(t, err)
	_, err = ts.db.CreateMessage(ctx, db.NewMessage{ConversationID: conv.ID, Role: "user", Content: "question"})
	require.NoError(t, err)
	_, err = ts.db.CreateMessage(ctx, db.NewMessage{ConversationID: conv.ID, Role: "assistant", Content: "answer", Provider: "openai", Model: "gpt-4"})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/export?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/markdown")
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
	assert.Contains(t, rec.Body.String(), "# Exported")

	rec = ts.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()

	rec = ts.do(t, http.MethodGet, "/api/conversations/"+itoa(conv.ID)+"/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/conversations/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	imported := decode[db.Conversation](t, rec)
	assert.NotEqual(t, conv.ID, imported.ID)
	assert.Equal(t, "Exported", imported.Title)

	msgs, err := ts.db.ListMessages(ctx, imported.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestSearchAndStats(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	conv, err := ts.db.CreateConversation(ctx, "Test", "openai", "m")
	require.NoError(t, err)
	_, err = ts.db.CreateMessage(ctx, db.NewMessage{ConversationID: conv.ID, Role: "user", Content: "the quick brown fox", TokensUsed: 4})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/search?q=brown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]db.SearchResult](t, rec)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Snippet, "brown")

	rec = ts.do(t, http.MethodGet, "/api/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/search?q=x&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Conversations int64 `json:"conversations"`
		Messages      int64 `json:"messages"`
		DBSizeBytes   int64 `json:"db_size_bytes"`
		Usage         struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Conversations)
	assert.EqualValues(t, 1, stats.Messages)
	assert.Positive(t, stats.DBSizeBytes)
	assert.EqualValues(t, 4, stats.Usage.TotalTokens)
}

func TestVacuum(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.db.CreateConversation(context.Background(), "Test", "openai", "m")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/stats/vacuum", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[db.DBStats](t, rec)
	assert.EqualValues(t, 1, stats.ConversationCount)
	assert.Positive(t, stats.DBSizeBytes)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	ts.do(t, http.MethodGet, "/api/conversations", "")

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatui_http_requests_total{method="GET",route="/api/conversations",status="200"} 1`)
}

func TestPanicRecovered(t *testing.T) {
	ts := newTestServer(t)
	ts.server.echo.GET("/boom", func(c echo.Context) error {
		panic("boom")
	})

	rec := ts.do(t, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[errorBody](t, rec).Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
