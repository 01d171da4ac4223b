package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"

	"github.com/zq940222/openclaw-feishu/internal/config"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// WebhookServer receives event-subscription callbacks when inbound_mode is
// webhook. It reuses the supervisor's event dispatcher, so both inbound
// modes normalize and route events identically.
type WebhookServer struct {
	cfg        config.FeishuConfig
	supervisor *Supervisor
	echo       *echo.Echo
	logger     *slog.Logger
}

// NewWebhookServer creates the callback server.
func NewWebhookServer(log *slog.Logger, cfg config.FeishuConfig, supervisor *Supervisor) *WebhookServer {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &WebhookServer{
		cfg:        cfg,
		supervisor: supervisor,
		echo:       e,
		logger:     log.With(slog.String("component", "feishu_webhook")),
	}
	e.GET("/feishu/webhook", s.handleProbe)
	e.POST("/feishu/webhook", s.handleEvent)
	return s
}

// Start runs the HTTP listener until Shutdown.
func (s *WebhookServer) Start(addr string) error {
	s.logger.Info("webhook listening", slog.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP listener.
func (s *WebhookServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *WebhookServer) handleProbe(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *WebhookServer) handleEvent(c echo.Context) error {
	if s.supervisor.session.BotOpenID() == "" {
		if err := s.supervisor.session.DiscoverSelf(c.Request().Context()); err != nil {
			s.logger.Warn("bot identity discovery failed", slog.Any("error", err))
		}
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	if err := validateCallbackAuth(payload, s.cfg); err != nil {
		return err
	}

	resp := s.supervisor.EventDispatcher(context.WithoutCancel(c.Request().Context())).Handle(c.Request().Context(), &larkevent.EventReq{
		Header:     c.Request().Header,
		Body:       payload,
		RequestURI: c.Request().RequestURI,
	})
	if resp == nil {
		return c.NoContent(http.StatusOK)
	}
	for key, values := range resp.Header {
		for _, value := range values {
			c.Response().Header().Add(key, value)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	if len(resp.Body) == 0 {
		return nil
	}
	_, err = c.Response().Write(resp.Body)
	return err
}

// validateCallbackAuth rejects callbacks carrying the wrong verification
// token. With an encrypt key configured the SDK verifies signatures instead.
func validateCallbackAuth(payload []byte, cfg config.FeishuConfig) error {
	if strings.TrimSpace(cfg.EncryptKey) != "" {
		return nil
	}
	var fuzzy larkevent.EventFuzzy
	if err := json.Unmarshal(payload, &fuzzy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid feishu webhook payload: %v", err))
	}
	if larkevent.ReqType(strings.TrimSpace(fuzzy.Type)) == larkevent.ReqTypeChallenge {
		return nil
	}
	expectedToken := strings.TrimSpace(cfg.VerificationToken)
	if expectedToken == "" {
		return echo.NewHTTPError(http.StatusForbidden, "feishu webhook requires verification_token when encrypt_key is empty")
	}
	requestToken := strings.TrimSpace(fuzzy.Token)
	if fuzzy.Header != nil && strings.TrimSpace(fuzzy.Header.Token) != "" {
		requestToken = strings.TrimSpace(fuzzy.Header.Token)
	}
	if requestToken == "" || requestToken != expectedToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid feishu webhook token")
	}
	return nil
}
