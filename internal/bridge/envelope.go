package bridge

import (
	"strings"
)

// Envelope is the finished request body handed to the agent runtime.
type Envelope struct {
	From           string
	ConversationID string
	MessageID      string
	Kind           ConversationKind
	Text           string
	// MediaPath is set only when exactly one media item resolved to a file.
	MediaPath  string
	MediaPaths []string
}

// EnvelopeBuilder composes agent request envelopes from the accepted event,
// the buffered group context, and the resolved media set.
type EnvelopeBuilder struct {
	history *History
}

// NewEnvelopeBuilder creates a builder reading buffered context from history.
func NewEnvelopeBuilder(history *History) *EnvelopeBuilder {
	return &EnvelopeBuilder{history: history}
}

// Build composes the envelope. quoted is the text of the message the event
// replies to, empty when none. Building reads but never drains the history
// buffer; the processor clears it after a successful dispatch.
func (b *EnvelopeBuilder) Build(in InboundContext, quoted string, media []ResolvedMedia) Envelope {
	body := strings.TrimSpace(in.Text)
	for _, item := range media {
		if strings.Contains(body, item.Placeholder) {
			continue
		}
		if body != "" {
			body += " "
		}
		body += item.Placeholder
	}
	if quoted = strings.TrimSpace(quoted); quoted != "" {
		body = "[quote] " + quoted + "\n" + body
	}

	env := Envelope{
		From:           in.SenderID,
		ConversationID: in.ConversationID,
		MessageID:      in.MessageID,
		Kind:           in.Kind,
		Text:           body,
	}
	if in.Kind == KindGroup {
		env.From = in.ConversationID + ":" + in.SenderID
		env.Text = b.history.DrainAsContext(in.ConversationID, FormatSpeakerLine(in.SenderID, body))
	}
	for _, item := range media {
		if item.Path != "" {
			env.MediaPaths = append(env.MediaPaths, item.Path)
		}
	}
	if len(env.MediaPaths) == 1 {
		env.MediaPath = env.MediaPaths[0]
	}
	return env
}
