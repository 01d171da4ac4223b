package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zq940222/openclaw-feishu/internal/markdown"
)

// TextSender delivers one plain-text message to a conversation. replyTo is
// the message id to thread under, empty for a top-level send.
type TextSender interface {
	SendText(ctx context.Context, conversationID, text, replyTo string) error
}

// CardSender delivers one rich-card message rendered from markdown.
type CardSender interface {
	SendCard(ctx context.Context, conversationID, body, replyTo string) error
}

// TypingGateway toggles the platform's processing indicator on a message.
// Start returns an opaque token that must be passed back to Stop.
type TypingGateway interface {
	Start(ctx context.Context, messageID string) (string, error)
	Stop(ctx context.Context, messageID, token string) error
}

// DispatcherConfig controls rendering and chunking of outbound replies.
type DispatcherConfig struct {
	RenderMode     RenderMode
	ChunkMode      ChunkMode
	TextChunkLimit int
}

// Dispatcher delivers agent replies back into the conversation. Each inbound
// event gets its own Transaction so the typing indicator's lifetime is tied
// to exactly one exchange.
type Dispatcher struct {
	text   TextSender
	card   CardSender
	typing TypingGateway
	cfg    DispatcherConfig
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. typing may be nil when the platform
// session has no reaction capability.
func NewDispatcher(log *slog.Logger, text TextSender, card CardSender, typing TypingGateway, cfg DispatcherConfig) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		text:   text,
		card:   card,
		typing: typing,
		cfg:    cfg,
		logger: log.With(slog.String("component", "dispatcher")),
	}
}

// Transaction delivers the replies for one inbound event. The first
// delivered chunk threads under the triggering message; everything after is
// sent top-level. Not safe for concurrent use.
type Transaction struct {
	d              *Dispatcher
	conversationID string
	replyTo        string
	typingStarted  bool
	typingToken    string
	delivered      int
}

// Begin opens a reply transaction for the message identified by replyTo. The
// typing indicator comes on when the first fragment arrives, so replies that
// never produce output never flash an indicator.
func (d *Dispatcher) Begin(ctx context.Context, conversationID, replyTo string) *Transaction {
	return &Transaction{d: d, conversationID: conversationID, replyTo: replyTo}
}

// startTyping turns on the typing indicator once per transaction. Failures
// are logged and ignored; a reply must never be lost to a cosmetic indicator.
func (tx *Transaction) startTyping(ctx context.Context) {
	d := tx.d
	if tx.typingStarted || d.typing == nil || tx.replyTo == "" {
		return
	}
	tx.typingStarted = true
	token, err := d.typing.Start(ctx, tx.replyTo)
	if err != nil {
		d.logger.Warn("typing indicator start failed",
			slog.String("message_id", tx.replyTo),
			slog.String("error", err.Error()),
		)
		return
	}
	tx.typingToken = token
}

// Deliver sends one reply fragment. Blank fragments are skipped without
// consuming the reply-to slot or touching the typing indicator.
func (tx *Transaction) Deliver(ctx context.Context, fragment string) error {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}
	tx.startTyping(ctx)
	d := tx.d
	if d.useCard(fragment) {
		body := markdown.HeadingsToBold(fragment)
		for _, chunk := range d.chunk(body) {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			if err := d.card.SendCard(ctx, tx.conversationID, chunk, tx.nextReplyTo()); err != nil {
				return fmt.Errorf("send card reply: %w", err)
			}
			tx.delivered++
		}
		return nil
	}

	plain := fragment
	if markdown.HasTable(plain) {
		plain = markdown.ConvertTablesToASCII(plain)
	}
	for _, chunk := range d.chunk(plain) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := d.text.SendText(ctx, tx.conversationID, chunk, tx.nextReplyTo()); err != nil {
			return fmt.Errorf("send text reply: %w", err)
		}
		tx.delivered++
	}
	return nil
}

// Delivered reports how many messages this transaction has sent.
func (tx *Transaction) Delivered() int {
	return tx.delivered
}

// End closes the transaction and clears the typing indicator if this
// transaction turned it on.
func (tx *Transaction) End(ctx context.Context) {
	if tx.typingToken == "" {
		return
	}
	if err := tx.d.typing.Stop(ctx, tx.replyTo, tx.typingToken); err != nil {
		tx.d.logger.Warn("typing indicator stop failed",
			slog.String("message_id", tx.replyTo),
			slog.String("error", err.Error()),
		)
	}
	tx.typingToken = ""
}

// nextReplyTo returns the thread target for the next send: the triggering
// message for the first one, top-level afterwards.
func (tx *Transaction) nextReplyTo() string {
	if tx.delivered == 0 {
		return tx.replyTo
	}
	return ""
}

func (d *Dispatcher) useCard(fragment string) bool {
	if d.card == nil {
		return false
	}
	switch d.cfg.RenderMode {
	case RenderCard:
		return true
	case RenderRaw:
		return false
	default:
		return markdown.HasFencedCodeBlock(fragment) || markdown.HasTable(fragment)
	}
}

func (d *Dispatcher) chunk(text string) []string {
	if d.cfg.ChunkMode == ChunkLength {
		return markdown.ChunkByLength(text, d.cfg.TextChunkLimit)
	}
	return markdown.ChunkByNewline(text, d.cfg.TextChunkLimit)
}
