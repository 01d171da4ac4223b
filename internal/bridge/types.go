// Package bridge implements the inbound message pipeline between the chat
// platform and the external agent runtime: policy gating, history buffering,
// media resolution, envelope construction, and reply dispatch.
package bridge

import (
	"strings"
	"time"
)

// ConversationKind distinguishes direct chats from group chats.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// MediaKind classifies a media reference found in a message body.
type MediaKind string

const (
	MediaImage   MediaKind = "image"
	MediaFile    MediaKind = "file"
	MediaAudio   MediaKind = "audio"
	MediaVideo   MediaKind = "video"
	MediaSticker MediaKind = "sticker"
)

// MediaReference is an unresolved pointer to platform-hosted media.
type MediaReference struct {
	Kind MediaKind
	Key  string
	Name string
}

// InboundContext is the canonical form of one inbound platform event.
// Immutable once constructed; exactly one instance exists per accepted event.
type InboundContext struct {
	ConversationID string
	MessageID      string
	SenderID       string
	SenderName     string
	Kind           ConversationKind
	Mentioned      bool
	ParentID       string
	RootID         string
	Text           string
	ContentType    string
	Media          []MediaReference
	ReceivedAt     time.Time
}

// QuoteTargetID returns the id of the message this event replies to, if any.
func (c InboundContext) QuoteTargetID() string {
	if id := strings.TrimSpace(c.ParentID); id != "" {
		return id
	}
	return strings.TrimSpace(c.RootID)
}

// ResolvedMedia is a downloaded, persisted media item ready for the envelope.
// Its lifetime ends when the envelope is built.
type ResolvedMedia struct {
	Path        string
	ContentType string
	Placeholder string
}

// HistoryEntry is one buffered, unconsumed group message.
type HistoryEntry struct {
	SenderID  string
	Text      string
	MessageID string
	At        time.Time
}

// DMPolicy controls direct-message admission.
type DMPolicy string

const (
	DMOpen      DMPolicy = "open"
	DMPairing   DMPolicy = "pairing"
	DMAllowlist DMPolicy = "allowlist"
)

// GroupPolicy controls group-message admission.
type GroupPolicy string

const (
	GroupOpen      GroupPolicy = "open"
	GroupAllowlist GroupPolicy = "allowlist"
	GroupDisabled  GroupPolicy = "disabled"
)

// RenderMode selects plain-text vs rich-card delivery of agent replies.
type RenderMode string

const (
	RenderAuto RenderMode = "auto"
	RenderRaw  RenderMode = "raw"
	RenderCard RenderMode = "card"
)

// ChunkMode selects the splitting strategy for over-limit reply text.
type ChunkMode string

const (
	ChunkLength  ChunkMode = "length"
	ChunkNewline ChunkMode = "newline"
)

// FormatSpeakerLine renders one transcript line in the speaker-tagged format
// shared by the history buffer and the envelope builder.
func FormatSpeakerLine(senderID, text string) string {
	return "[" + strings.TrimSpace(senderID) + "]: " + strings.TrimSpace(text)
}
