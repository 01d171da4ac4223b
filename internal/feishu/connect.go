package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/zq940222/openclaw-feishu/internal/agent"
	"github.com/zq940222/openclaw-feishu/internal/bridge"
	"github.com/zq940222/openclaw-feishu/internal/config"
)

const reconnectDelay = 3 * time.Second

// InboundHandler processes one normalized inbound event.
type InboundHandler func(ctx context.Context, in bridge.InboundContext) error

// Supervisor owns the inbound event subscription: the websocket long
// connection with its reconnect loop, and the dispatcher shared with the
// webhook receiver.
type Supervisor struct {
	session   *Session
	cfg       config.FeishuConfig
	handler   InboundHandler
	events    agent.SystemEvents
	router    agent.Router
	directory *Directory
	logger    *slog.Logger
}

// NewSupervisor creates the inbound supervisor. events may be nil when the
// agent runtime does not accept system notices.
func NewSupervisor(log *slog.Logger, session *Session, cfg config.FeishuConfig, handler InboundHandler, router agent.Router, events agent.SystemEvents) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		session:   session,
		cfg:       cfg,
		handler:   handler,
		events:    events,
		router:    router,
		directory: NewDirectory(log, session),
		logger:    log.With(slog.String("component", "feishu_connect")),
	}
}

// Run discovers the bot identity and holds the websocket connection open
// until ctx is cancelled, reconnecting on failure.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.InboundMode != "websocket" {
		return fmt.Errorf("inbound_mode is %s; websocket supervisor not applicable", s.cfg.InboundMode)
	}
	if err := s.session.DiscoverSelf(ctx); err != nil {
		// Without the open_id any mention counts as a bot mention.
		s.logger.Warn("bot identity discovery failed", slog.Any("error", err))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		client := larkws.NewClient(
			s.cfg.AppID,
			s.cfg.AppSecret,
			larkws.WithEventHandler(s.EventDispatcher(ctx)),
			larkws.WithDomain(openBaseURL(s.cfg.Region)),
			larkws.WithLogger(larkSlogLogger{logger: s.logger}),
			larkws.WithLogLevel(larkcore.LogLevelWarn),
		)
		err := client.Start(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Error("websocket client exited", slog.Any("error", err))
		} else {
			s.logger.Warn("websocket client exited without error; reconnecting")
		}
		timer := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// EventDispatcher builds the subscription handler set. The webhook receiver
// reuses it so both inbound modes normalize events the same way.
func (s *Supervisor) EventDispatcher(ctx context.Context) *dispatcher.EventDispatcher {
	d := dispatcher.NewEventDispatcher(s.cfg.VerificationToken, s.cfg.EncryptKey)
	d.OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
		if ctx.Err() != nil {
			return nil
		}
		in := ExtractInbound(event, s.session.BotOpenID())
		if in.Text == "" && len(in.Media) == 0 {
			s.logger.Info("inbound ignored empty payload",
				slog.String("message_id", in.MessageID),
				slog.String("content_type", in.ContentType),
			)
			return nil
		}
		s.logger.Info("inbound received",
			slog.String("message_id", in.MessageID),
			slog.String("conversation_id", in.ConversationID),
			slog.String("kind", string(in.Kind)),
			slog.Bool("mentioned", in.Mentioned),
		)
		go func(in bridge.InboundContext) {
			if in.SenderName == "" && s.directory != nil {
				rosterChatID := ""
				if in.Kind == bridge.KindGroup {
					rosterChatID = in.ConversationID
				}
				in.SenderName = s.directory.DisplayName(ctx, rosterChatID, in.SenderID)
			}
			if err := s.handler(ctx, in); err != nil {
				s.logger.Error("handle inbound failed",
					slog.String("message_id", in.MessageID),
					slog.Any("error", err),
				)
			}
		}(in)
		return nil
	})
	d.OnP2MessageReadV1(func(_ context.Context, _ *larkim.P2MessageReadV1) error {
		return nil
	})
	// The typing indicator is a reaction, so these fire on every exchange.
	d.OnP2MessageReactionCreatedV1(func(_ context.Context, _ *larkim.P2MessageReactionCreatedV1) error {
		return nil
	})
	d.OnP2MessageReactionDeletedV1(func(_ context.Context, _ *larkim.P2MessageReactionDeletedV1) error {
		return nil
	})
	d.OnP2ChatMemberBotAddedV1(func(_ context.Context, event *larkim.P2ChatMemberBotAddedV1) error {
		chatID := ""
		if event != nil && event.Event != nil {
			chatID = deref(event.Event.ChatId)
		}
		s.notifyMembership(ctx, "bot-added", chatID)
		return nil
	})
	d.OnP2ChatMemberBotDeletedV1(func(_ context.Context, event *larkim.P2ChatMemberBotDeletedV1) error {
		chatID := ""
		if event != nil && event.Event != nil {
			chatID = deref(event.Event.ChatId)
		}
		s.notifyMembership(ctx, "bot-removed", chatID)
		return nil
	})
	return d
}

func (s *Supervisor) notifyMembership(ctx context.Context, label, chatID string) {
	if s.events == nil || chatID == "" {
		return
	}
	sessionKey := chatID
	if s.router != nil {
		sessionKey = s.router.ResolveRoute(chatID).SessionKey
	}
	if err := s.events.Enqueue(ctx, label, sessionKey, "chat:"+chatID); err != nil {
		s.logger.Warn("membership notice failed",
			slog.String("label", label),
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("membership notice sent",
		slog.String("label", label),
		slog.String("chat_id", chatID),
	)
}

// larkSlogLogger adapts slog to the SDK's logger interface.
type larkSlogLogger struct {
	logger *slog.Logger
}

func (l larkSlogLogger) Debug(_ context.Context, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(args...)))
}

func (l larkSlogLogger) Info(_ context.Context, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintln(args...)))
}

func (l larkSlogLogger) Warn(_ context.Context, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintln(args...)))
}

func (l larkSlogLogger) Error(_ context.Context, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintln(args...)))
}
