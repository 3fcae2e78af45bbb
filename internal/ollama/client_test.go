package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeOllama serves /api/tags, /api/pull and /api/chat from canned state and
// records what it was asked.
type fakeOllama struct {
	mu       sync.Mutex
	models   []string
	reply    string
	chatCode int
	pulled   []string
	chats    []chatRequest
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/tags":
		var resp tagsResponse
		for _, m := range f.models {
			resp.Models = append(resp.Models, struct {
				Name string `json:"name"`
			}{m})
		}
		json.NewEncoder(w).Encode(resp)
	case "/api/pull":
		var req struct {
			Name   string `json:"name"`
			Stream bool   `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		f.pulled = append(f.pulled, req.Name)
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
		f.models = append(f.models, req.Name+":latest")
	case "/api/chat":
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.chats = append(f.chats, req)
		if f.chatCode != 0 {
			http.Error(w, "model not loaded", f.chatCode)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: f.reply}})
	default:
		http.NotFound(w, r)
	}
}

func startFake(t *testing.T, f *fakeOllama) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func closedClient() *Client {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return New(srv.URL)
}

func TestIsRunning(t *testing.T) {
	c := startFake(t, &fakeOllama{models: []string{"llama3.2:latest"}})
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
	if closedClient().IsRunning(context.Background()) {
		t.Error("IsRunning() = true for a closed server")
	}
}

func TestListModels(t *testing.T) {
	want := []string{"llama3.2:latest", "qwen2.5:7b", "mistral:latest"}
	c := startFake(t, &fakeOllama{models: want})

	got, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("models = %v, want %v", got, want)
	}
}

func TestHasModel(t *testing.T) {
	c := startFake(t, &fakeOllama{models: []string{"llama3.2:latest", "qwen2.5:7b"}})

	tests := []struct {
		name string
		want bool
	}{
		{"llama3.2", true},
		{"llama3.2:latest", true},
		{"qwen2.5", true},
		{"qwen2.5:14b", false},
		{"llama3", false},
		{"mistral", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestProbe(t *testing.T) {
	c := startFake(t, &fakeOllama{models: []string{"qwen2.5:7b"}})

	conn := c.Probe(context.Background(), "llama3.2")
	if !conn.Available || conn.ModelAvailable {
		t.Errorf("Probe = %+v, want available without the model", conn)
	}
	if len(conn.Models) != 1 || conn.Error != "" {
		t.Errorf("Probe = %+v", conn)
	}

	down := closedClient().Probe(context.Background(), "llama3.2")
	if down.Available || down.Error == "" {
		t.Errorf("Probe on closed server = %+v, want unavailable with error", down)
	}
}

func TestChat(t *testing.T) {
	f := &fakeOllama{reply: `{"title":"Garden Planner","viability":7}`}
	c := startFake(t, f)

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"title":     {Type: "string"},
			"viability": {Type: "integer"},
		},
		Required: []string{"title", "viability"},
	}
	got, err := c.Chat(context.Background(), "llama3.2",
		[]Message{{Role: "user", Content: "analyze this memo"}},
		schema, &Options{Temperature: 0.7, NumPredict: 2000})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != f.reply {
		t.Errorf("reply = %q, want %q", got, f.reply)
	}

	req := f.chats[0]
	if req.Stream {
		t.Error("stream = true, want false")
	}
	if req.Format == nil || req.Format.Type != "object" || len(req.Format.Required) != 2 {
		t.Errorf("format = %+v", req.Format)
	}
	if req.Options == nil || req.Options.Temperature != 0.7 || req.Options.NumPredict != 2000 {
		t.Errorf("options = %+v", req.Options)
	}
}

func TestChat_PlainOmitsFormat(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Content: "pong"}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "ping"}}, nil, nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, ok := raw["format"]; ok {
		t.Error("format sent without a schema")
	}
	if _, ok := raw["options"]; ok {
		t.Error("options sent when nil")
	}
}

func TestChat_StatusError(t *testing.T) {
	c := startFake(t, &fakeOllama{chatCode: http.StatusInternalServerError})

	_, err := c.Chat(context.Background(), "llama3.2", nil, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Op != "chat" || se.Code != http.StatusInternalServerError || se.Body != "model not loaded" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestPullModel_Progress(t *testing.T) {
	f := &fakeOllama{}
	c := startFake(t, f)

	var seen []PullProgress
	if err := c.PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		seen = append(seen, p)
	}); err != nil {
		t.Fatalf("PullModel: %v", err)
	}

	if len(seen) != 4 {
		t.Fatalf("received %d progress updates, want 4", len(seen))
	}
	if seen[0].Percent() != -1 || seen[1].Percent() != 50 {
		t.Errorf("percent = %v, %v", seen[0].Percent(), seen[1].Percent())
	}
	if len(f.pulled) != 1 || f.pulled[0] != "llama3.2" {
		t.Errorf("pulled = %v", f.pulled)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	err := EnsureReady(context.Background(), closedClient(), "llama3.2", io.Discard)
	if err == nil {
		t.Fatal("expected error when Ollama is down")
	}
	if !strings.Contains(err.Error(), "Ollama is not running") {
		t.Errorf("error = %q", err)
	}
}

func TestEnsureReady_PullsMissingModel(t *testing.T) {
	f := &fakeOllama{models: []string{"qwen2.5:7b"}, reply: "pong"}
	c := startFake(t, f)

	var out strings.Builder
	if err := EnsureReady(context.Background(), c, "llama3.2", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 1 || len(f.chats) != 1 {
		t.Errorf("pulled = %v, chats = %d", f.pulled, len(f.chats))
	}
	for _, want := range []string{"downloading 50%", "downloading 100%", "model llama3.2: warm"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestEnsureReady_WarmUpFailureIsNotFatal(t *testing.T) {
	f := &fakeOllama{models: []string{"llama3.2:latest"}, chatCode: http.StatusServiceUnavailable}
	c := startFake(t, f)

	var out strings.Builder
	if err := EnsureReady(context.Background(), c, "llama3.2", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 0 {
		t.Errorf("pulled = %v, want none", f.pulled)
	}
	if !strings.Contains(out.String(), "warm-up failed (non-fatal)") {
		t.Errorf("output = %q", out.String())
	}
}
