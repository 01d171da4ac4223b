// Package agent defines the bridge's contract with the external agent
// runtime and the HTTP gateway client implementing it.
package agent

import "context"

// Request is one envelope forwarded to the agent runtime.
type Request struct {
	SessionKey     string   `json:"session_key"`
	From           string   `json:"from"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	Text           string   `json:"text"`
	MediaPath      string   `json:"media_path,omitempty"`
	MediaPaths     []string `json:"media_paths,omitempty"`
}

// ReplyPayload is one streamed reply fragment from the agent.
type ReplyPayload struct {
	Text string
}

// Runner streams agent replies for a request. The payload channel closes
// when the stream ends; at most one error is sent on the error channel.
type Runner interface {
	StreamReply(ctx context.Context, req Request) (<-chan ReplyPayload, <-chan error)
}

// SystemEvents delivers out-of-band notices (membership changes, lifecycle
// markers) to the agent runtime. Best-effort; failures are logged upstream.
type SystemEvents interface {
	Enqueue(ctx context.Context, label, sessionKey, contextKey string) error
}

// Route identifies the agent session a conversation maps to.
type Route struct {
	SessionKey string
}

// Router resolves the session route for a conversation.
type Router interface {
	ResolveRoute(conversationID string) Route
}

// PrefixRouter derives session keys by prefixing the conversation id. The
// zero value uses no prefix.
type PrefixRouter struct {
	Prefix string
}

func (r PrefixRouter) ResolveRoute(conversationID string) Route {
	if r.Prefix == "" {
		return Route{SessionKey: conversationID}
	}
	return Route{SessionKey: r.Prefix + ":" + conversationID}
}
