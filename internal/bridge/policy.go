package bridge

import (
	"log/slog"
	"strings"
)

// Decision is the outcome of gating one inbound event.
type Decision int

const (
	// DecisionAccept lets the event continue into the pipeline.
	DecisionAccept Decision = iota
	// DecisionDrop discards the event silently.
	DecisionDrop
	// DecisionBuffer records the event into the history buffer and stops.
	DecisionBuffer
)

// MatchSource reports which allow-list rule admitted a sender.
type MatchSource string

const (
	MatchWildcard MatchSource = "wildcard"
	MatchID       MatchSource = "id"
	MatchName     MatchSource = "name"
	MatchNone     MatchSource = ""
)

// Verdict carries the gate decision plus logging context.
type Verdict struct {
	Decision Decision
	Match    MatchSource
	Reason   string
}

// GroupRule is the effective per-group admission override.
type GroupRule struct {
	AllowFrom      []string
	RequireMention *bool
}

// PolicyConfig is the resolved admission policy consumed by the gate.
type PolicyConfig struct {
	DMPolicy       DMPolicy
	GroupPolicy    GroupPolicy
	AllowFrom      []string
	GroupAllowFrom []string
	RequireMention bool
	Groups         map[string]GroupRule
}

// Gate decides whether an inbound event proceeds, is dropped, or is buffered
// into the conversation history. The buffer-and-drop path is the only one
// with a side effect.
type Gate struct {
	cfg     PolicyConfig
	history *History
	logger  *slog.Logger
}

// NewGate creates a policy gate writing buffered events into history.
func NewGate(log *slog.Logger, cfg PolicyConfig, history *History) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		cfg:     cfg,
		history: history,
		logger:  log.With(slog.String("component", "policy_gate")),
	}
}

// Evaluate gates one event. Policy rejection is not an error; drops are
// logged at info level only.
func (g *Gate) Evaluate(in InboundContext) Verdict {
	verdict := g.evaluate(in)
	switch verdict.Decision {
	case DecisionDrop:
		g.logger.Info("inbound dropped by policy",
			slog.String("conversation_id", in.ConversationID),
			slog.String("sender_id", in.SenderID),
			slog.String("kind", string(in.Kind)),
			slog.String("reason", verdict.Reason),
		)
	case DecisionBuffer:
		g.history.Record(in.ConversationID, HistoryEntry{
			SenderID:  in.SenderID,
			Text:      in.Text,
			MessageID: in.MessageID,
			At:        in.ReceivedAt,
		})
		g.logger.Info("inbound buffered (mention required)",
			slog.String("conversation_id", in.ConversationID),
			slog.String("sender_id", in.SenderID),
		)
	}
	return verdict
}

func (g *Gate) evaluate(in InboundContext) Verdict {
	if in.Kind == KindGroup {
		return g.evaluateGroup(in)
	}
	return g.evaluateDirect(in)
}

func (g *Gate) evaluateDirect(in InboundContext) Verdict {
	switch g.cfg.DMPolicy {
	case DMOpen, DMPairing:
		// Pairing approval is owned by an external collaborator; admission
		// here treats it like open.
		return Verdict{Decision: DecisionAccept}
	case DMAllowlist:
		// Direct-message matching is id-only; names are a group concept.
		source := matchAllowlist(g.cfg.AllowFrom, in.SenderID, "")
		if source != MatchNone {
			return Verdict{Decision: DecisionAccept, Match: source}
		}
		return Verdict{Decision: DecisionDrop, Reason: "dm sender not in allow-list"}
	default:
		return Verdict{Decision: DecisionDrop, Reason: "unknown dm policy"}
	}
}

func (g *Gate) evaluateGroup(in InboundContext) Verdict {
	switch g.cfg.GroupPolicy {
	case GroupDisabled:
		return Verdict{Decision: DecisionDrop, Reason: "group policy disabled"}
	case GroupOpen:
		return g.applyMentionRule(in, Verdict{Decision: DecisionAccept})
	case GroupAllowlist:
		source := matchAllowlist(g.effectiveGroupAllowlist(in.ConversationID), in.SenderID, in.SenderName)
		if source == MatchNone {
			return Verdict{Decision: DecisionDrop, Reason: "group sender not in allow-list"}
		}
		return g.applyMentionRule(in, Verdict{Decision: DecisionAccept, Match: source})
	default:
		return Verdict{Decision: DecisionDrop, Reason: "unknown group policy"}
	}
}

// applyMentionRule downgrades an accepted group event to buffer-and-drop
// when the conversation requires an explicit mention and none was present.
func (g *Gate) applyMentionRule(in InboundContext, accepted Verdict) Verdict {
	if !g.requireMention(in.ConversationID) || in.Mentioned {
		return accepted
	}
	return Verdict{Decision: DecisionBuffer, Match: accepted.Match, Reason: "mention required"}
}

func (g *Gate) requireMention(conversationID string) bool {
	if rule, ok := g.cfg.Groups[conversationID]; ok && rule.RequireMention != nil {
		return *rule.RequireMention
	}
	return g.cfg.RequireMention
}

// effectiveGroupAllowlist prefers the per-group list when configured.
func (g *Gate) effectiveGroupAllowlist(conversationID string) []string {
	if rule, ok := g.cfg.Groups[conversationID]; ok && len(rule.AllowFrom) > 0 {
		return rule.AllowFrom
	}
	if len(g.cfg.GroupAllowFrom) > 0 {
		return g.cfg.GroupAllowFrom
	}
	return g.cfg.AllowFrom
}

// matchAllowlist reports how a sender matches the allow-list. Precedence is
// wildcard > id > name, evaluated over the whole list rather than
// first-hit-in-list-order. Name is ignored when empty.
func matchAllowlist(allowFrom []string, senderID, senderName string) MatchSource {
	senderID = strings.TrimSpace(senderID)
	senderName = strings.TrimSpace(senderName)
	matched := MatchNone
	for _, raw := range allowFrom {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return MatchWildcard
		}
		if senderID != "" && strings.EqualFold(entry, senderID) {
			matched = MatchID
			continue
		}
		if matched == MatchNone && senderName != "" && strings.EqualFold(entry, senderName) {
			matched = MatchName
		}
	}
	return matched
}
