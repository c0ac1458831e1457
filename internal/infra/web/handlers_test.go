//go:build !integration

package web

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

	"github.com/rs/zerolog"

	"chat-token-budget/internal/domain"
	"chat-token-budget/internal/domain/model"
	"chat-token-budget/internal/infra/ratelimit"
	"chat-token-budget/internal/tokenbudget"
	"chat-token-budget/internal/usecase"
)

//
// ---------------- fakes ----------------
//

type fakeChats struct {
	sessions map[string]*model.ChatSession
	sendErr  error
}

func newFakeChats() *fakeChats {
	return &fakeChats{sessions: map[string]*model.ChatSession{}}
}

func (f *fakeChats) StartChat(ctx context.Context, userID, modelName string) (*model.ChatSession, error) {
	if modelName == "" {
		modelName = model.DefaultModelName
	}
	if _, ok := model.LookupProfile(modelName); !ok {
		return nil, domain.ErrUnknownModel
	}
	s := model.NewChatSession("s-"+userID, userID, modelName)
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeChats) GetSession(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeChats) SendMessage(ctx context.Context, userID, sessionID, content string) (*usecase.ChatReply, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	s, err := f.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	s.AddMessage("m1", model.RoleUser, content, 1)
	reply := s.AddMessage("m2", model.RoleAssistant, "echo: "+content, 2)
	return &usecase.ChatReply{Message: *reply, SentMessages: 1}, nil
}

func (f *fakeChats) EndChat(ctx context.Context, userID, sessionID string) error {
	s, err := f.GetSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	s.Status = model.ChatSessionFinished
	return nil
}

type testEnv struct {
	handler http.Handler
	auth    *AuthManager
	chats   *fakeChats
}

func newTestEnv(t *testing.T, opts ServerOptions) *testEnv {
	t.Helper()
	reg, err := tokenbudget.NewRegistry(model.DefaultProfiles(), "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.Nop()
	auth := NewAuthManager("test-secret", "chat-token-budget", time.Hour)
	chats := newFakeChats()
	srv := NewServer(usecase.NewTokenUseCase(reg), chats, auth, opts, &logger)
	return &testEnv{handler: srv.Router(), auth: auth, chats: chats}
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, err := e.auth.Mint(userID)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type failingTokens struct{ err error }

func (f failingTokens) Analyze(ctx context.Context, modelName string, messages []model.ChatMessage, maxOutputOverride *int) (*usecase.TokenAnalysis, error) {
	return nil, f.err
}

func (f failingTokens) Models(ctx context.Context) []model.ModelProfile { return nil }

//
// ---------------- tests ----------------
//

func TestTokenCheck_InternalErrorIsGeneric(t *testing.T) {
	logger := zerolog.Nop()
	auth := NewAuthManager("test-secret", "chat-token-budget", time.Hour)
	srv := NewServer(failingTokens{err: errors.New("boom: connection refused")}, newFakeChats(), auth, ServerOptions{}, &logger)
	env := &testEnv{handler: srv.Router(), auth: auth}

	rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "failed to process token accounting" {
		t.Errorf("unexpected error body %q", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("internal error text leaked: %s", rec.Body.String())
	}
}

func TestTokenCheck_AllPaths(t *testing.T) {
	env := newTestEnv(t, ServerOptions{})

	t.Run("401 without token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "", `{"messages":[]}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("want 401, got %d", rec.Code)
		}
	})

	t.Run("200 within limits has null trimmedMessages", func(t *testing.T) {
		body := `{"model":"gpt-3.5-turbo","messages":[{"role":"system","content":"You are helpful."},{"role":"user","content":"Hi"}]}`
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
			t.Fatal(err)
		}
		if string(raw["trimmedMessages"]) != "null" {
			t.Errorf("want null trimmedMessages, got %s", raw["trimmedMessages"])
		}
		var resp tokenCheckResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if !resp.TokenCheck.WithinLimits || resp.TokenCheck.MaxInputTokens != 12289 {
			t.Errorf("unexpected tokenCheck %+v", resp.TokenCheck)
		}
		if resp.OriginalCount != 2 || resp.TrimmedCount != 2 {
			t.Errorf("unexpected counts %d/%d", resp.OriginalCount, resp.TrimmedCount)
		}
		if resp.UsageSummary.UtilizationPercentage <= 0 {
			t.Errorf("expected utilization to be reported")
		}
	})

	t.Run("200 over budget returns trimmed messages", func(t *testing.T) {
		long := strings.Repeat("word ", 20000)
		body, _ := json.Marshal(map[string]any{
			"model": "gpt-3.5-turbo",
			"messages": []map[string]any{
				{"role": "system", "content": "sys"},
				{"role": "user", "content": long},
			},
		})
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", string(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
		var resp tokenCheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.TokenCheck.WithinLimits {
			t.Fatal("expected withinLimits=false")
		}
		if resp.TrimmedCount != 2 || len(resp.TrimmedMessages) != 2 {
			t.Fatalf("want system + truncated message, got %d", resp.TrimmedCount)
		}
		if resp.TrimmedMessages[0].Role != "system" || !strings.HasSuffix(resp.TrimmedMessages[1].Content, "...") {
			t.Errorf("unexpected trimmed messages")
		}
	})

	t.Run("content parts and objects are normalized", func(t *testing.T) {
		body := `{"messages":[{"role":"user","content":[{"type":"text","text":"hello"},{"type":"image_url","image_url":{"url":"x"}}]},{"role":"assistant","content":{"k":"v"}}]}`
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("want 200, got %d, body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("400 unknown model", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", `{"model":"gpt-9","messages":[]}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("400 missing messages", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", `{"model":"gpt-4o"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("400 bad role", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", `{"messages":[{"role":"tool","content":"x"}]}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})

	t.Run("400 malformed body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/tokens/check", "u1", `{`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", rec.Code)
		}
	})
}

func TestModels_List(t *testing.T) {
	env := newTestEnv(t, ServerOptions{})
	rec := env.do(t, http.MethodGet, "/api/v1/models", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var body struct {
		Items []model.ModelProfile `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Items) != 4 || body.Items[0].Name != model.ModelGPT35Turbo {
		t.Fatalf("unexpected items %+v", body.Items)
	}
}

func TestChats_Lifecycle(t *testing.T) {
	env := newTestEnv(t, ServerOptions{})

	rec := env.do(t, http.MethodPost, "/api/v1/chats", "u1", `{"model":"gpt-4o-mini"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: want 201, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var s sessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &s)
	if s.ID == "" || s.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected session %+v", s)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/chats/"+s.ID+"/messages", "u1", `{"content":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send: want 200, got %d, body=%s", rec.Code, rec.Body.String())
	}
	var reply usecase.ChatReply
	_ = json.Unmarshal(rec.Body.Bytes(), &reply)
	if reply.Message.Content != "echo: hello" {
		t.Errorf("unexpected reply %+v", reply.Message)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/chats/"+s.ID, "u2", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign get: want 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/chats/"+s.ID, "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: want 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/chats/"+s.ID, "u1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("end: want 204, got %d", rec.Code)
	}
}

func TestChats_ErrorMapping(t *testing.T) {
	env := newTestEnv(t, ServerOptions{})
	rec := env.do(t, http.MethodPost, "/api/v1/chats", "u1", `{"model":"nope"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown model: want 400, got %d", rec.Code)
	}

	_ = env.do(t, http.MethodPost, "/api/v1/chats", "u1", "")
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrChatNotActive, http.StatusConflict},
		{domain.ErrOperationFailed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		env.chats.sendErr = tc.err
		rec := env.do(t, http.MethodPost, "/api/v1/chats/s-u1/messages", "u1", `{"content":"x"}`)
		if rec.Code != tc.want {
			t.Errorf("%v: want %d, got %d", tc.err, tc.want, rec.Code)
		}
		if tc.want >= 500 && strings.Contains(rec.Body.String(), "boom") {
			t.Errorf("5xx must not leak error text: %s", rec.Body.String())
		}
	}
}

func TestRateLimit_Blocks(t *testing.T) {
	env := newTestEnv(t, ServerOptions{
		Limiter:    ratelimit.NewMemoryLimiter(2, time.Minute),
		RateWindow: time.Minute,
	})
	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodGet, "/api/v1/models", "u1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: want 200, got %d", i, rec.Code)
		}
	}
	rec := env.do(t, http.MethodGet, "/api/v1/models", "u1", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("want Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
	// another user has its own window
	if rec := env.do(t, http.MethodGet, "/api/v1/models", "u2", ""); rec.Code != http.StatusOK {
		t.Fatalf("other user: want 200, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, ServerOptions{Health: func(ctx context.Context) error { return errors.New("db down") }})
	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
	env = newTestEnv(t, ServerOptions{})
	if rec := env.do(t, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
}

func TestAuthManager_RejectsForeignSignature(t *testing.T) {
	a := NewAuthManager("secret-a", "iss", time.Hour)
	b := NewAuthManager("secret-b", "iss", time.Hour)
	tok, err := a.Mint("u1")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if _, err := b.ParseFromRequest(req); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	claims, err := a.ParseFromRequest(req)
	if err != nil || claims.Subject != "u1" {
		t.Fatalf("want subject u1, got %v %v", claims, err)
	}
}

func TestNormalizeContent(t *testing.T) {
	cases := map[string]string{
		`"plain"`:                          "plain",
		`null`:                             "",
		`["a",{"type":"text","text":"b"}]`: "a\nb",
		`{ "k" : 1 }`:                      `{"k":1}`,
		`42`:                               "42",
	}
	for in, want := range cases {
		got, err := normalizeContent(json.RawMessage(in))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Errorf("%s: want %q, got %q", in, want, got)
		}
	}
}
