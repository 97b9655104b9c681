package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-chat-client/internal/config"
	"helpdesk-chat-client/internal/types"
)

// testBackend fakes the remote customer-service backend.
type testBackend struct {
	failChat    bool
	uploadCalls int32
}

func (b *testBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if b.failChat {
			http.Error(w, "backend down", http.StatusInternalServerError)
			return
		}
		_ = r.ParseForm()
		msg := strings.ToLower(r.FormValue("message"))
		resp := types.NormalizedResponse{
			Response:  "Happy to help with that.",
			Sentiment: types.Sentiment{Label: "Neutral", Score: 0.5},
		}
		if strings.Contains(msg, "callback") || strings.Contains(msg, "call me") {
			resp.Response = "Sure, I can arrange a callback for you."
			resp.Schedule = &types.Schedule{ID: "sched-1", Date: "2026-09-02", Time: "10:00", Priority: "High"}
			resp.Sentiment = types.Sentiment{Label: "Negative", Score: 0.82}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.uploadCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transcription": "I need help with my invoice",
			"is_faq":        false,
			"response":      "Let me pull up your invoice.",
			"sentiment":     types.Sentiment{Label: "Neutral", Score: 0.5},
		})
	})
	mux.HandleFunc("/api/schedules", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"sched-1","query":"call me","date":"2026-09-02","time":"10:00","priority":"High","status":"pending","created_at":"2026-09-01","sentiment":"Negative"}]`)
	})
	mux.HandleFunc("/api/faq", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"How do I reset my password?":"Use the forgot password link."}`)
	})
	return mux
}

func testConfig(t *testing.T, backendURL string) config.Config {
	t.Helper()
	// Short reveal cadence keeps the synchronous chat handlers fast.
	policyPath := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("reveal_interval_ms: 1\n"), 0o600))
	return config.Config{
		Port:           "0",
		AllowedOrigin:  "*",
		BackendBaseURL: backendURL,
		BackendTimeout: 5 * time.Second,
		PolicyFile:     policyPath,
	}
}

func newTestServer(t *testing.T, backend *testBackend) *Server {
	t.Helper()
	bs := httptest.NewServer(backend.handler())
	t.Cleanup(bs.Close)
	s, err := NewServer(testConfig(t, bs.URL))
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path, sid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set("X-Session-Id", sid)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeChat(t *testing.T, rr *httptest.ResponseRecorder) types.ChatResponse {
	t.Helper()
	var out types.ChatResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
}

func TestChatRevealsAssistantReply(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rr.Code)

	out := decodeChat(t, rr)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, out.SessionID, rr.Header().Get("X-Session-Id"))
	require.Len(t, out.Messages, 2)
	assert.Equal(t, types.RoleUser, out.Messages[0].Role)
	assert.Equal(t, "hello", out.Messages[0].Content)
	assert.Equal(t, types.RoleAssistant, out.Messages[1].Role)
	assert.Equal(t, "Happy to help with that.", out.Messages[1].Content)
	assert.False(t, out.Messages[1].Revealing)
	assert.Nil(t, out.Pending)
}

func TestChatEmptyMessage(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "   "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "message is required")
}

func TestChatFallsBackOnBackendFailure(t *testing.T) {
	s := newTestServer(t, &testBackend{failChat: true})
	rr := doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rr.Code)

	out := decodeChat(t, rr)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "I'm sorry, I couldn't process your request at the moment. Please try again later.", out.Messages[1].Content)
}

func TestScheduleConfirmFlow(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "please schedule a callback"})
	require.Equal(t, http.StatusOK, rr.Code)

	out := decodeChat(t, rr)
	sid := out.SessionID
	require.NotNil(t, out.Pending)
	require.NotNil(t, out.Pending.Schedule)
	assert.Equal(t, "2026-09-02", out.Pending.Schedule.Date)
	// The assistant reply is held back until the user decides.
	require.Len(t, out.Messages, 1)
	assert.Equal(t, types.RoleUser, out.Messages[0].Role)

	// A second message while the offer is open is rejected.
	rr = doJSON(t, s, http.MethodPost, "/api/chat", sid, types.ChatRequest{Message: "hello?"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, s, http.MethodPost, "/api/chat/confirm", sid, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	out = decodeChat(t, rr)
	assert.Nil(t, out.Pending)
	require.Len(t, out.Messages, 3)
	assert.Equal(t, types.RoleAssistant, out.Messages[1].Role)
	assert.Equal(t, "Sure, I can arrange a callback for you.", out.Messages[1].Content)
	assert.Equal(t, types.RoleSystem, out.Messages[2].Role)
	assert.Equal(t, "\U0001F4C5 Callback scheduled for 2026-09-02 at 10:00 (Priority: High)", out.Messages[2].Content)
}

func TestScheduleCancelFlow(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "call me back please"})
	require.Equal(t, http.StatusOK, rr.Code)
	out := decodeChat(t, rr)
	sid := out.SessionID
	require.NotNil(t, out.Pending)

	rr = doJSON(t, s, http.MethodPost, "/api/chat/cancel", sid, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	out = decodeChat(t, rr)
	assert.Nil(t, out.Pending)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, types.RoleSystem, out.Messages[1].Role)
	assert.Equal(t, "Email and callback scheduling canceled.", out.Messages[1].Content)
	for _, m := range out.Messages {
		assert.NotEqual(t, types.RoleAssistant, m.Role)
	}
}

func TestConfirmWithoutOffer(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodPost, "/api/chat/confirm", "s_none", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = doJSON(t, s, http.MethodPost, "/api/chat/cancel", "s_none", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func multipartUpload(t *testing.T, fieldContentType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="note.webm"`)
	h.Set("Content-Type", fieldContentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-audio-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadRejectsNonAudio(t *testing.T) {
	backend := &testBackend{}
	s := newTestServer(t, backend)

	body, contentType := multipartUpload(t, "text/plain")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "only audio files")
	assert.Zero(t, atomic.LoadInt32(&backend.uploadCalls))
}

func TestUploadTranscribesAudio(t *testing.T) {
	backend := &testBackend{}
	s := newTestServer(t, backend)

	body, contentType := multipartUpload(t, "audio/webm")
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	out := decodeChat(t, rr)
	require.Len(t, out.Messages, 2)
	// The upload placeholder gets rewritten in place with the transcript.
	assert.Equal(t, types.RoleUser, out.Messages[0].Role)
	assert.Equal(t, "I need help with my invoice", out.Messages[0].Content)
	assert.Equal(t, "Let me pull up your invoice.", out.Messages[1].Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.uploadCalls))
}

func TestLoginLogout(t *testing.T) {
	s := newTestServer(t, &testBackend{})

	rr := doJSON(t, s, http.MethodPost, "/api/login", "", map[string]string{"email": "", "password": ""})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, s, http.MethodPost, "/api/login", "", map[string]string{"email": "user@example.com", "password": "hunter2"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"loggedIn":true`)
	cookies := rr.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == LoginCookieName && c.Value == "1" {
			found = true
		}
	}
	assert.True(t, found, "login cookie should be set")

	rr = doJSON(t, s, http.MethodPost, "/api/logout", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"loggedIn":false`)
}

func TestLogoutDropsSession(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	out := decodeChat(t, doJSON(t, s, http.MethodPost, "/api/chat", "", types.ChatRequest{Message: "hello"}))
	sid := out.SessionID
	require.Len(t, out.Messages, 2)

	rr := doJSON(t, s, http.MethodPost, "/api/logout", sid, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	out = decodeChat(t, doJSON(t, s, http.MethodGet, "/api/messages", sid, nil))
	assert.Empty(t, out.Messages)
}

func TestDashboardProxies(t *testing.T) {
	s := newTestServer(t, &testBackend{})

	rr := doJSON(t, s, http.MethodGet, "/api/schedules", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sched-1")

	rr = doJSON(t, s, http.MethodGet, "/api/faqs", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "forgot password")
}

func TestDashboardRequiresAgentWhenConfigured(t *testing.T) {
	backend := &testBackend{}
	bs := httptest.NewServer(backend.handler())
	t.Cleanup(bs.Close)

	cfg := testConfig(t, bs.URL)
	cfg.OAuthClientID = "client"
	cfg.OAuthClientSecret = "secret"
	cfg.OAuthAuthURL = "https://idp.example.com/authorize"
	cfg.OAuthTokenURL = "https://idp.example.com/token"
	s, err := NewServer(cfg)
	require.NoError(t, err)

	rr := doJSON(t, s, http.MethodGet, "/api/schedules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doJSON(t, s, http.MethodGet, "/api/auth/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"configured":true`)
	assert.Contains(t, rr.Body.String(), `"authenticated":false`)

	rr = doJSON(t, s, http.MethodGet, "/api/auth/login", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "idp.example.com/authorize")
}

func TestWSOriginPolicyIsPerServer(t *testing.T) {
	backend := &testBackend{}
	bs := httptest.NewServer(backend.handler())
	t.Cleanup(bs.Close)

	restrictedCfg := testConfig(t, bs.URL)
	restrictedCfg.AllowedOrigin = "https://app.example.com"
	restricted, err := NewServer(restrictedCfg)
	require.NoError(t, err)
	open, err := NewServer(testConfig(t, bs.URL))
	require.NoError(t, err)

	restrictedTS := httptest.NewServer(restricted.Router())
	t.Cleanup(restrictedTS.Close)
	openTS := httptest.NewServer(open.Router())
	t.Cleanup(openTS.Close)

	wsURL := func(ts *httptest.Server) string {
		return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	}

	// Concurrent upgrades against both servers: each must enforce its own
	// origin policy, never the other's.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.Dial(
				wsURL(openTS), http.Header{"Origin": {"https://anywhere.example.com"}})
			if assert.NoError(t, err) {
				conn.Close()
			}
			if resp != nil {
				resp.Body.Close()
			}
		}()
		go func() {
			defer wg.Done()
			_, resp, err := websocket.DefaultDialer.Dial(
				wsURL(restrictedTS), http.Header{"Origin": {"https://evil.example.com"}})
			assert.Error(t, err)
			if resp != nil {
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	// the matching origin is still accepted
	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(restrictedTS), http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	conn.Close()
}

func TestAuthStatusUnconfigured(t *testing.T) {
	s := newTestServer(t, &testBackend{})
	rr := doJSON(t, s, http.MethodGet, "/api/auth/status", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"configured":false`)
}
