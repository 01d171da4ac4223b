package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/zq940222/openclaw-feishu/internal/agent"
	"github.com/zq940222/openclaw-feishu/internal/artifact"
	"github.com/zq940222/openclaw-feishu/internal/bridge"
	"github.com/zq940222/openclaw-feishu/internal/config"
	"github.com/zq940222/openclaw-feishu/internal/feishu"
	"github.com/zq940222/openclaw-feishu/internal/logger"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideSession,
			provideSender,
			provideHistory,
			provideGate,
			provideArtifactStore,
			provideMediaResolver,
			provideEnvelopeBuilder,
			provideDispatcher,
			provideAgentGateway,
			provideRouter,
			provideRunner,
			provideSystemEvents,
			provideQuotedFetcher,
			provideProcessor,
			provideSupervisor,
		),
		fx.Invoke(
			startInbound,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideSession(log *slog.Logger, cfg config.Config) *feishu.Session {
	return feishu.NewSession(log, cfg.Feishu)
}

func provideSender(log *slog.Logger, session *feishu.Session) *feishu.Sender {
	return feishu.NewSender(log, session)
}

func provideHistory(cfg config.Config) *bridge.History {
	history := bridge.NewHistory(*cfg.Bridge.HistoryLimit)
	for chatID, group := range cfg.Bridge.Groups {
		if group.HistoryLimit != nil {
			history.SetConversationLimit(chatID, *group.HistoryLimit)
		}
	}
	return history
}

func provideGate(log *slog.Logger, cfg config.Config, history *bridge.History) *bridge.Gate {
	groups := make(map[string]bridge.GroupRule, len(cfg.Bridge.Groups))
	for chatID, group := range cfg.Bridge.Groups {
		groups[chatID] = bridge.GroupRule{
			AllowFrom:      group.AllowFrom,
			RequireMention: group.RequireMention,
		}
	}
	return bridge.NewGate(log, bridge.PolicyConfig{
		DMPolicy:       bridge.DMPolicy(cfg.Bridge.DMPolicy),
		GroupPolicy:    bridge.GroupPolicy(cfg.Bridge.GroupPolicy),
		AllowFrom:      cfg.Bridge.AllowFrom,
		GroupAllowFrom: cfg.Bridge.GroupAllowFrom,
		RequireMention: cfg.Bridge.RequireMentionDefault(),
		Groups:         groups,
	}, history)
}

func provideArtifactStore(cfg config.Config) *artifact.Store {
	return artifact.NewStore(cfg.Bridge.Workdir)
}

func provideMediaResolver(log *slog.Logger, sender *feishu.Sender, store *artifact.Store, cfg config.Config) *bridge.MediaResolver {
	return bridge.NewMediaResolver(log, sender, store, cfg.MediaMaxBytes())
}

func provideEnvelopeBuilder(history *bridge.History) *bridge.EnvelopeBuilder {
	return bridge.NewEnvelopeBuilder(history)
}

func provideDispatcher(log *slog.Logger, sender *feishu.Sender, cfg config.Config) *bridge.Dispatcher {
	return bridge.NewDispatcher(log, sender, sender, sender, bridge.DispatcherConfig{
		RenderMode:     bridge.RenderMode(cfg.Bridge.RenderMode),
		ChunkMode:      bridge.ChunkMode(cfg.Bridge.ChunkMode),
		TextChunkLimit: cfg.Bridge.TextChunkLimit,
	})
}

func provideAgentGateway(log *slog.Logger, cfg config.Config) *agent.Gateway {
	return agent.NewGateway(log, cfg.Agent.GatewayURL, cfg.Agent.Token)
}

func provideRouter() agent.Router {
	return agent.PrefixRouter{Prefix: "feishu"}
}

func provideRunner(gateway *agent.Gateway) agent.Runner {
	return gateway
}

func provideSystemEvents(gateway *agent.Gateway) agent.SystemEvents {
	return gateway
}

func provideQuotedFetcher(sender *feishu.Sender) bridge.QuotedFetcher {
	return sender
}

func provideProcessor(
	log *slog.Logger,
	gate *bridge.Gate,
	resolver *bridge.MediaResolver,
	builder *bridge.EnvelopeBuilder,
	dispatcher *bridge.Dispatcher,
	history *bridge.History,
	quotes bridge.QuotedFetcher,
	router agent.Router,
	runner agent.Runner,
) *bridge.Processor {
	return bridge.NewProcessor(log, gate, resolver, builder, dispatcher, history, quotes, router, runner)
}

func provideSupervisor(
	log *slog.Logger,
	session *feishu.Session,
	cfg config.Config,
	processor *bridge.Processor,
	router agent.Router,
	events agent.SystemEvents,
) *feishu.Supervisor {
	return feishu.NewSupervisor(log, session, cfg.Feishu, processor.Process, router, events)
}

func startInbound(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, supervisor *feishu.Supervisor) {
	if cfg.Feishu.InboundMode == "webhook" {
		server := feishu.NewWebhookServer(log, cfg.Feishu, supervisor)
		lc.Append(fx.Hook{
			OnStart: func(_ context.Context) error {
				go func() {
					if err := server.Start(cfg.Feishu.WebhookAddr); err != nil && err != http.ErrServerClosed {
						log.Error("webhook server exited", slog.Any("error", err))
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := supervisor.Run(runCtx); err != nil && runCtx.Err() == nil {
					log.Error("inbound supervisor exited", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}
