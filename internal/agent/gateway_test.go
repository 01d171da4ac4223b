package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func collectStream(t *testing.T, g *Gateway, req Request) ([]string, error) {
	t.Helper()
	payloadCh, errCh := g.StreamReply(context.Background(), req)
	var texts []string
	for p := range payloadCh {
		texts = append(texts, p.Text)
	}
	return texts, <-errCh
}

func TestStreamReplyDecodesDeltas(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.SessionKey != "s1" {
			t.Errorf("session key = %q", req.SessionKey)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"text_delta\",\"text\":\"hel\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"text_delta\",\"text\":\"lo\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGateway(nil, srv.URL, "")
	texts, err := collectStream(t, g, Request{SessionKey: "s1", Text: "hi"})
	if err != nil {
		t.Fatalf("StreamReply: %v", err)
	}
	if len(texts) != 2 || texts[0] != "hel" || texts[1] != "lo" {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamReplyBareTextFrames(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: plain fragment\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGateway(nil, srv.URL, "")
	texts, err := collectStream(t, g, Request{SessionKey: "s1"})
	if err != nil {
		t.Fatalf("StreamReply: %v", err)
	}
	if len(texts) != 1 || texts[0] != "plain fragment" {
		t.Fatalf("texts = %v", texts)
	}
}

func TestStreamReplyGatewayError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(nil, srv.URL, "")
	texts, err := collectStream(t, g, Request{SessionKey: "s1"})
	if err == nil {
		t.Fatalf("expected error from gateway")
	}
	if len(texts) != 0 {
		t.Fatalf("no payloads expected on error, got %v", texts)
	}
}

func TestStreamReplySendsAuthorization(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "secret" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGateway(nil, srv.URL, "secret")
	if _, err := collectStream(t, g, Request{SessionKey: "s1"}); err != nil {
		t.Fatalf("StreamReply: %v", err)
	}
}

func TestEnqueuePostsEvent(t *testing.T) {
	t.Parallel()
	var got struct {
		Label      string `json:"label"`
		SessionKey string `json:"session_key"`
		ContextKey string `json:"context_key"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode event: %v", err)
		}
	}))
	defer srv.Close()

	g := NewGateway(nil, srv.URL, "")
	if err := g.Enqueue(context.Background(), "bot-added", "s1", "chat:g1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got.Label != "bot-added" || got.SessionKey != "s1" || got.ContextKey != "chat:g1" {
		t.Fatalf("event payload = %+v", got)
	}
}

func TestPrefixRouter(t *testing.T) {
	t.Parallel()
	if got := (PrefixRouter{}).ResolveRoute("c1").SessionKey; got != "c1" {
		t.Fatalf("SessionKey = %q", got)
	}
	if got := (PrefixRouter{Prefix: "feishu"}).ResolveRoute("c1").SessionKey; got != "feishu:c1" {
		t.Fatalf("SessionKey = %q", got)
	}
}
