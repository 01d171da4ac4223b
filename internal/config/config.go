// Package config loads and validates the bridge configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultRegion         = "feishu"
	DefaultInboundMode    = "websocket"
	DefaultWebhookAddr    = ":8090"
	DefaultHistoryLimit   = 20
	DefaultMediaMaxMB     = 20.0
	DefaultRenderMode     = "auto"
	DefaultTextChunkLimit = 2000
	DefaultChunkMode      = "newline"
	DefaultWorkdir        = "data"
	DefaultGatewayURL     = "http://127.0.0.1:8080"
)

// ErrMissingCredentials indicates the Feishu app credentials are absent.
// This is fatal to the whole connection.
var ErrMissingCredentials = errors.New("feishu app_id and app_secret are required")

type Config struct {
	Log    LogConfig    `toml:"log"`
	Feishu FeishuConfig `toml:"feishu"`
	Bridge BridgeConfig `toml:"bridge"`
	Agent  AgentConfig  `toml:"agent"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// FeishuConfig holds the platform credentials and inbound transport mode.
type FeishuConfig struct {
	AppID             string `toml:"app_id"`
	AppSecret         string `toml:"app_secret"`
	EncryptKey        string `toml:"encrypt_key"`
	VerificationToken string `toml:"verification_token"`
	Region            string `toml:"region"`
	InboundMode       string `toml:"inbound_mode"`
	WebhookAddr       string `toml:"webhook_addr"`
}

// BridgeConfig is the policy and dispatch surface of the pipeline.
type BridgeConfig struct {
	DMPolicy       string                 `toml:"dm_policy"`
	GroupPolicy    string                 `toml:"group_policy"`
	AllowFrom      []string               `toml:"allow_from"`
	GroupAllowFrom []string               `toml:"group_allow_from"`
	RequireMention *bool                  `toml:"require_mention"`
	HistoryLimit   *int                   `toml:"history_limit"`
	MediaMaxMB     float64                `toml:"media_max_mb"`
	RenderMode     string                 `toml:"render_mode"`
	TextChunkLimit int                    `toml:"text_chunk_limit"`
	ChunkMode      string                 `toml:"chunk_mode"`
	Workdir        string                 `toml:"workdir"`
	Groups         map[string]GroupConfig `toml:"groups"`
}

// GroupConfig overrides group admission per chat id.
type GroupConfig struct {
	AllowFrom      []string `toml:"allow_from"`
	RequireMention *bool    `toml:"require_mention"`
	HistoryLimit   *int     `toml:"history_limit"`
}

// AgentConfig points at the agent gateway the bridge forwards envelopes to.
type AgentConfig struct {
	GatewayURL string `toml:"gateway_url"`
	Token      string `toml:"token"`
}

// Load reads the TOML file at path, applies defaults, and validates enums.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills zero-value fields with defaults and validates enum fields.
func (c *Config) Normalize() error {
	if strings.TrimSpace(c.Feishu.AppID) == "" || strings.TrimSpace(c.Feishu.AppSecret) == "" {
		return ErrMissingCredentials
	}
	region, err := normalizeRegion(c.Feishu.Region)
	if err != nil {
		return err
	}
	c.Feishu.Region = region
	mode, err := normalizeInboundMode(c.Feishu.InboundMode)
	if err != nil {
		return err
	}
	c.Feishu.InboundMode = mode
	if strings.TrimSpace(c.Feishu.WebhookAddr) == "" {
		c.Feishu.WebhookAddr = DefaultWebhookAddr
	}

	dm, err := normalizeEnum("dm_policy", c.Bridge.DMPolicy, "open", "open", "pairing", "allowlist")
	if err != nil {
		return err
	}
	c.Bridge.DMPolicy = dm
	group, err := normalizeEnum("group_policy", c.Bridge.GroupPolicy, "open", "open", "allowlist", "disabled")
	if err != nil {
		return err
	}
	c.Bridge.GroupPolicy = group
	render, err := normalizeEnum("render_mode", c.Bridge.RenderMode, DefaultRenderMode, "auto", "raw", "card")
	if err != nil {
		return err
	}
	c.Bridge.RenderMode = render
	chunk, err := normalizeEnum("chunk_mode", c.Bridge.ChunkMode, DefaultChunkMode, "length", "newline")
	if err != nil {
		return err
	}
	c.Bridge.ChunkMode = chunk

	if c.Bridge.HistoryLimit == nil {
		limit := DefaultHistoryLimit
		c.Bridge.HistoryLimit = &limit
	} else if *c.Bridge.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be >= 0")
	}
	if c.Bridge.MediaMaxMB <= 0 {
		c.Bridge.MediaMaxMB = DefaultMediaMaxMB
	}
	if c.Bridge.TextChunkLimit <= 0 {
		c.Bridge.TextChunkLimit = DefaultTextChunkLimit
	}
	if strings.TrimSpace(c.Bridge.Workdir) == "" {
		c.Bridge.Workdir = DefaultWorkdir
	}
	if strings.TrimSpace(c.Agent.GatewayURL) == "" {
		c.Agent.GatewayURL = DefaultGatewayURL
	}
	c.Agent.GatewayURL = strings.TrimRight(c.Agent.GatewayURL, "/")
	return nil
}

// MediaMaxBytes converts the configured megabyte ceiling to bytes.
func (c Config) MediaMaxBytes() int64 {
	return int64(c.Bridge.MediaMaxMB * 1024 * 1024)
}

// RequireMentionDefault reports the global require_mention setting (default true).
func (b BridgeConfig) RequireMentionDefault() bool {
	if b.RequireMention == nil {
		return true
	}
	return *b.RequireMention
}

func normalizeRegion(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "feishu", "cn", "china":
		return "feishu", nil
	case "lark", "global", "intl", "international":
		return "lark", nil
	default:
		return "", fmt.Errorf("feishu region must be feishu or lark")
	}
}

func normalizeInboundMode(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "websocket":
		return "websocket", nil
	case "webhook":
		return "webhook", nil
	default:
		return "", fmt.Errorf("feishu inbound_mode must be websocket or webhook")
	}
}

func normalizeEnum(field, raw, fallback string, allowed ...string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return fallback, nil
	}
	for _, item := range allowed {
		if value == item {
			return value, nil
		}
	}
	return "", fmt.Errorf("%s must be one of %s", field, strings.Join(allowed, ", "))
}
