package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zq940222/openclaw-feishu/internal/agent"
)

// QuotedFetcher loads the plain text of a previously sent message so replies
// can carry the quoted context.
type QuotedFetcher interface {
	FetchMessageText(ctx context.Context, messageID string) (string, error)
}

// Processor runs one inbound event through the whole pipeline: admission,
// media resolution, envelope construction, the agent round-trip, and reply
// dispatch.
type Processor struct {
	gate       *Gate
	resolver   *MediaResolver
	builder    *EnvelopeBuilder
	dispatcher *Dispatcher
	history    *History
	quotes     QuotedFetcher
	router     agent.Router
	runner     agent.Runner
	logger     *slog.Logger
}

// NewProcessor wires the pipeline stages together. quotes may be nil when
// the platform session cannot fetch message bodies.
func NewProcessor(
	log *slog.Logger,
	gate *Gate,
	resolver *MediaResolver,
	builder *EnvelopeBuilder,
	dispatcher *Dispatcher,
	history *History,
	quotes QuotedFetcher,
	router agent.Router,
	runner agent.Runner,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		gate:       gate,
		resolver:   resolver,
		builder:    builder,
		dispatcher: dispatcher,
		history:    history,
		quotes:     quotes,
		router:     router,
		runner:     runner,
		logger:     log.With(slog.String("component", "processor")),
	}
}

// Process handles one inbound event. Policy rejections are not errors; an
// error means an accepted event could not be fully served.
func (p *Processor) Process(ctx context.Context, in InboundContext) error {
	if verdict := p.gate.Evaluate(in); verdict.Decision != DecisionAccept {
		return nil
	}

	media := p.resolver.Resolve(ctx, in)
	quoted := p.fetchQuoted(ctx, in)
	env := p.builder.Build(in, quoted, media)
	route := p.router.ResolveRoute(in.ConversationID)

	req := agent.Request{
		SessionKey:     route.SessionKey,
		From:           env.From,
		ConversationID: env.ConversationID,
		MessageID:      env.MessageID,
		Text:           env.Text,
		MediaPath:      env.MediaPath,
		MediaPaths:     env.MediaPaths,
	}

	tx := p.dispatcher.Begin(ctx, in.ConversationID, in.MessageID)
	defer tx.End(ctx)

	// Fragments deliver independently: one failed send must not stop later
	// fragments, and the payload channel is always drained so the stream
	// producer is never left blocked on an abandoned channel.
	var deliverErr error
	payloadCh, errCh := p.runner.StreamReply(ctx, req)
	for payload := range payloadCh {
		if err := tx.Deliver(ctx, payload.Text); err != nil {
			p.logger.Error("reply delivery failed",
				slog.String("conversation_id", in.ConversationID),
				slog.String("message_id", in.MessageID),
				slog.String("error", err.Error()),
			)
			if deliverErr == nil {
				deliverErr = err
			}
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("agent stream for %s: %w", in.MessageID, err)
	}
	if deliverErr != nil {
		return fmt.Errorf("dispatch reply for %s: %w", in.MessageID, deliverErr)
	}

	// The envelope consumed the buffered group context; start fresh.
	if in.Kind == KindGroup {
		p.history.Clear(in.ConversationID)
	}
	p.logger.Info("event processed",
		slog.String("conversation_id", in.ConversationID),
		slog.String("message_id", in.MessageID),
		slog.Int("replies", tx.Delivered()),
	)
	return nil
}

func (p *Processor) fetchQuoted(ctx context.Context, in InboundContext) string {
	target := in.QuoteTargetID()
	if target == "" || p.quotes == nil {
		return ""
	}
	text, err := p.quotes.FetchMessageText(ctx, target)
	if err != nil {
		// Quoting is additive context; losing it must not drop the event.
		p.logger.Warn("quoted message fetch failed",
			slog.String("message_id", target),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return text
}
