package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Gateway is the HTTP client for the agent runtime. Streaming replies arrive
// as server-sent events on /chat/stream; system notices post to /events.
type Gateway struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	streamingClient *http.Client
	logger          *slog.Logger
}

// NewGateway creates a client for the gateway at baseURL. token is attached
// as the Authorization header when non-empty.
func NewGateway(log *slog.Logger, baseURL, token string) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// No client timeout on the streaming path; cancellation comes from ctx.
		streamingClient: &http.Client{},
		logger:          log.With(slog.String("component", "agent_gateway")),
	}
}

// StreamReply sends the request and streams reply fragments until the agent
// signals completion or ctx is cancelled.
func (g *Gateway) StreamReply(ctx context.Context, req Request) (<-chan ReplyPayload, <-chan error) {
	payloadCh := make(chan ReplyPayload)
	errCh := make(chan error, 1)
	g.logger.Info("gateway stream start",
		slog.String("session_key", req.SessionKey),
		slog.String("conversation_id", req.ConversationID),
	)

	go func() {
		defer close(payloadCh)
		defer close(errCh)
		if err := g.stream(ctx, req, payloadCh); err != nil {
			g.logger.Error("gateway stream failed",
				slog.String("session_key", req.SessionKey),
				slog.Any("error", err),
			)
			errCh <- err
		}
	}()
	return payloadCh, errCh
}

func (g *Gateway) stream(ctx context.Context, req Request, payloadCh chan<- ReplyPayload) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := g.baseURL + "/chat/stream"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if strings.TrimSpace(g.token) != "" {
		httpReq.Header.Set("Authorization", g.token)
	}

	resp, err := g.streamingClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent gateway error: %s", strings.TrimSpace(string(errBody)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	currentEvent := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" || currentEvent == "done" {
			continue
		}
		text, done := decodeStreamData(data)
		if done {
			break
		}
		if text == "" {
			continue
		}
		select {
		case payloadCh <- ReplyPayload{Text: text}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// decodeStreamData extracts reply text from one data frame. Frames are
// either tagged JSON objects or bare text.
func decodeStreamData(data string) (text string, done bool) {
	var envelope struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		// Not JSON; treat the frame as literal text.
		return data, false
	}
	switch envelope.Type {
	case "done", "agent_end":
		return "", true
	case "", "text", "text_delta", "message":
		return envelope.Text, false
	default:
		// Unknown frame types carry no user-visible text.
		return "", false
	}
}

// Enqueue posts one system notice to the gateway. The notice body mirrors
// the chat request shape so the runtime can route it by session key.
func (g *Gateway) Enqueue(ctx context.Context, label, sessionKey, contextKey string) error {
	payload := struct {
		Label      string `json:"label"`
		SessionKey string `json:"session_key"`
		ContextKey string `json:"context_key,omitempty"`
	}{Label: label, SessionKey: sessionKey, ContextKey: contextKey}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := g.baseURL + "/events"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(g.token) != "" {
		httpReq.Header.Set("Authorization", g.token)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent gateway error: %s", strings.TrimSpace(string(errBody)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
