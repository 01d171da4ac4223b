package bridge

import (
	"strings"
	"sync"
)

// History is the per-conversation bounded buffer of unconsumed group
// messages. It is the only cross-event mutable state in the pipeline; the
// mutex keys safety, not ordering. A limit of 0 disables buffering.
type History struct {
	mu     sync.Mutex
	limit  int
	limits map[string]int
	byConv map[string][]HistoryEntry
}

// NewHistory creates a buffer with the given global depth limit.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{
		limit:  limit,
		limits: make(map[string]int),
		byConv: make(map[string][]HistoryEntry),
	}
}

// SetConversationLimit overrides the depth limit for one conversation.
func (h *History) SetConversationLimit(conversationID string, limit int) {
	if h == nil {
		return
	}
	if limit < 0 {
		limit = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limits[conversationID] = limit
}

func (h *History) limitFor(conversationID string) int {
	if limit, ok := h.limits[conversationID]; ok {
		return limit
	}
	return h.limit
}

// Record appends an entry, evicting oldest-first past the limit.
// No-op when the effective limit is 0. Never fails.
func (h *History) Record(conversationID string, entry HistoryEntry) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	limit := h.limitFor(conversationID)
	if limit == 0 {
		return
	}
	entries := append(h.byConv[conversationID], entry)
	if overflow := len(entries) - limit; overflow > 0 {
		entries = entries[overflow:]
	}
	h.byConv[conversationID] = entries
}

// Len reports the number of buffered entries for a conversation.
func (h *History) Len(conversationID string) int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byConv[conversationID])
}

// DrainAsContext renders all buffered entries oldest-first in the
// speaker-tagged format, followed by the current message line. The buffer
// itself is not mutated; Clear runs only after a successful dispatch.
func (h *History) DrainAsContext(conversationID, currentLine string) string {
	currentLine = strings.TrimSpace(currentLine)
	if h == nil {
		return currentLine
	}
	h.mu.Lock()
	entries := h.byConv[conversationID]
	lines := make([]string, 0, len(entries)+1)
	for _, entry := range entries {
		lines = append(lines, FormatSpeakerLine(entry.SenderID, entry.Text))
	}
	h.mu.Unlock()
	if currentLine != "" {
		lines = append(lines, currentLine)
	}
	return strings.Join(lines, "\n")
}

// Clear empties one conversation's buffer.
func (h *History) Clear(conversationID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byConv, conversationID)
}
