// Package feishu is the platform layer: it owns the Lark API session,
// event normalization, and outbound delivery.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"

	"github.com/zq940222/openclaw-feishu/internal/config"
)

// Session holds the authenticated Lark client and the bot's own identity for
// one configured app. All platform calls go through it.
type Session struct {
	cfg    config.FeishuConfig
	client *lark.Client
	logger *slog.Logger

	mu        sync.RWMutex
	botOpenID string
}

// NewSession builds the API client for the configured region. The bot's
// open_id is unknown until DiscoverSelf succeeds.
func NewSession(log *slog.Logger, cfg config.FeishuConfig) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		client: lark.NewClient(cfg.AppID, cfg.AppSecret, lark.WithOpenBaseUrl(openBaseURL(cfg.Region))),
		logger: log.With(slog.String("component", "feishu_session")),
	}
}

// Client exposes the underlying API client.
func (s *Session) Client() *lark.Client {
	return s.client
}

// BotOpenID returns the bot's own open_id, empty until discovered.
func (s *Session) BotOpenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botOpenID
}

// DiscoverSelf fetches the bot's identity from the platform. Mention
// detection falls back to any-mention-counts while the open_id is unknown,
// so a failure here degrades behavior but is not fatal.
func (s *Session) DiscoverSelf(ctx context.Context) error {
	resp, err := s.client.Get(ctx, "/open-apis/bot/v3/info", nil, larkcore.AccessTokenTypeTenant)
	if err != nil {
		return fmt.Errorf("feishu discover self: %w", err)
	}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.RawBody, &body); err != nil {
		return fmt.Errorf("feishu discover self: parse response: %w", err)
	}
	if body.Code != 0 {
		return fmt.Errorf("feishu discover self: %s (code: %d)", body.Msg, body.Code)
	}
	openID := strings.TrimSpace(body.Bot.OpenID)
	if openID == "" {
		return fmt.Errorf("feishu discover self: empty open_id")
	}
	s.mu.Lock()
	s.botOpenID = openID
	s.mu.Unlock()
	s.logger.Info("bot identity discovered",
		slog.String("open_id", openID),
		slog.String("name", strings.TrimSpace(body.Bot.AppName)),
	)
	return nil
}

func openBaseURL(region string) string {
	if strings.EqualFold(strings.TrimSpace(region), "lark") {
		return lark.LarkBaseUrl
	}
	return lark.FeishuBaseUrl
}
