package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/switchboard/internal/auth"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/upstream"
)

// fakeUpstream serves a token endpoint and a scripted chat-completions SSE
// stream on one listener.
func fakeUpstream(t *testing.T, sse []string, capture *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range sse {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	})
	return httptest.NewTLSServer(mux)
}

// newTestServer builds a gateway wired to the fake upstream, returning its
// HTTP handler.
func newTestServer(t *testing.T, srv *httptest.Server, extra string) (*Server, http.Handler) {
	t.Helper()
	host := strings.TrimPrefix(srv.URL, "https://")
	path := filepath.Join(t.TempDir(), "gateway.env")
	content := "oauth_host=" + host + "\n" +
		"oauth_client_id=client-1\n" +
		"llm_api_url=" + srv.URL + "/v1/chat/completions\n" +
		"oauth_refresh_token=refresh-1\n" +
		"disable_ssl_verify=true\n" + extra
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	am, err := auth.NewManager(cfg, nil, nil)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	s := NewServer(cfg, nil, nil, am, upstream.NewClient(cfg, am, nil, nil))
	s.models = []string{"oca/gpt-4.1", "oca/base"}
	return s, s.Routes()
}

func delta(d string) string {
	return `data: {"choices":[{"delta":` + d + `}]}`
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMessagesNonStreaming(t *testing.T) {
	sse := []string{delta(`{"content":"Hello!"}`), "data: [DONE]"}
	var captured openai.ChatCompletionRequest
	srv := fakeUpstream(t, sse, &captured)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/messages",
		`{"model":"oca/gpt-4.1","max_tokens":100,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ok, _ := regexp.MatchString(`^msg_[a-z0-9]{24}$`, resp["id"].(string)); !ok {
		t.Errorf("id = %q", resp["id"])
	}
	content := resp["content"].([]any)[0].(map[string]any)
	if content["type"] != "text" || content["text"] != "Hello!" {
		t.Errorf("content = %+v", content)
	}
	if resp["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v", resp["stop_reason"])
	}

	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" || captured.Messages[0].Content != "Hi" {
		t.Errorf("upstream messages = %+v", captured.Messages)
	}
}

func TestMessagesUnknownModel(t *testing.T) {
	srv := fakeUpstream(t, nil, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/messages",
		`{"model":"gpt-nope","max_tokens":10,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["type"] != "error" || resp["error"].(map[string]any)["type"] != "not_found_error" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestMessagesRejectsMissingMaxTokens(t *testing.T) {
	srv := fakeUpstream(t, nil, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/messages",
		`{"model":"oca/base","messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	sse := []string{delta(`{"content":"Hel"}`), delta(`{"content":"lo"}`), "data: [DONE]"}
	srv := fakeUpstream(t, sse, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions",
		`{"model":"oca/base","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"Hel"`) || !strings.Contains(body, `"content":"lo"`) {
		t.Errorf("deltas missing from stream:\n%s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream not terminated with [DONE]:\n%s", body)
	}
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	sse := []string{
		delta(`{"content":"Sure."}`),
		delta(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{}"}}]}`),
		"data: [DONE]",
	}
	srv := fakeUpstream(t, sse, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions",
		`{"model":"oca/base","messages":[{"role":"user","content":"Hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	choice := resp["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Errorf("finish_reason = %v", choice["finish_reason"])
	}
}

func TestResponsesLifecycle(t *testing.T) {
	sse := []string{delta(`{"content":"stored answer"}`), "data: [DONE]"}
	srv := fakeUpstream(t, sse, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "llm_model_name=oca/base\n")

	// Unknown previous_response_id is rejected before any upstream call.
	rec := doJSON(t, h, http.MethodPost, "/v1/responses",
		`{"model":"any","input":"hi","previous_response_id":"resp_missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/responses", `{"model":"any","input":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := resp["id"].(string)
	if ok, _ := regexp.MatchString(`^resp_[a-z0-9]{24}$`, id); !ok {
		t.Errorf("id = %q", id)
	}
	if resp["model"] != "oca/base" {
		t.Errorf("model = %v, want the configured default", resp["model"])
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/responses/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/responses/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/v1/responses/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second DELETE status = %d", rec.Code)
	}
}

func TestResponsesStoreFalseSkipsRetention(t *testing.T) {
	sse := []string{delta(`{"content":"ephemeral"}`), "data: [DONE]"}
	srv := fakeUpstream(t, sse, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "llm_model_name=oca/base\n")

	rec := doJSON(t, h, http.MethodPost, "/v1/responses", `{"model":"any","input":"hi","store":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/responses/"+resp["id"].(string), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET status = %d, want 404 for unstored response", rec.Code)
	}
}

func TestResponsesStreaming(t *testing.T) {
	sse := []string{delta(`{"content":"streamed"}`), "data: [DONE]"}
	srv := fakeUpstream(t, sse, nil)
	defer srv.Close()
	s, h := newTestServer(t, srv, "llm_model_name=oca/base\n")

	rec := doJSON(t, h, http.MethodPost, "/v1/responses", `{"model":"any","input":"hi","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: response.created") || !strings.Contains(body, "event: response.completed") {
		t.Errorf("stream missing lifecycle events:\n%s", body)
	}

	// The streamed response is retained for retrieval.
	m := regexp.MustCompile(`"id":"(resp_[a-z0-9]{24})"`).FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no response id in stream:\n%s", body)
	}
	if _, ok := s.store.Get(m[1]); !ok {
		t.Errorf("streamed response %s not stored", m[1])
	}
}

func TestModelsEndpoints(t *testing.T) {
	srv := fakeUpstream(t, nil, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodGet, "/v1/models", "")
	var list map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list["data"].([]any)) != 2 {
		t.Errorf("models = %+v", list["data"])
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/model/info", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	entry := list["data"].([]any)[0].(map[string]any)
	info := entry["model_info"].(map[string]any)
	if info["mode"] != "chat" || info["litellm_provider"] != "oca" {
		t.Errorf("model_info = %+v", info)
	}
}

func TestSpendCalculateStub(t *testing.T) {
	srv := fakeUpstream(t, nil, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodPost, "/v1/spend/calculate",
		`{"model":"oca/base","prompt_tokens":10,"completion_tokens":5,"total_tokens":15}`)
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["result"].(map[string]any)["cost"] != 0.0 {
		t.Errorf("cost = %v", resp["result"])
	}
	if resp["usage"].(map[string]any)["total_tokens"].(float64) != 15 {
		t.Errorf("usage = %+v", resp["usage"])
	}
}

func TestHealthz(t *testing.T) {
	srv := fakeUpstream(t, nil, nil)
	defer srv.Close()
	_, h := newTestServer(t, srv, "")

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}
