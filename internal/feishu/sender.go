package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/zq940222/openclaw-feishu/internal/bridge"
)

const typingReactionType = "Typing"

type messageAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
	Reply(ctx context.Context, req *larkim.ReplyMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error)
	Get(ctx context.Context, req *larkim.GetMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.GetMessageResp, error)
}

type messageResourceAPI interface {
	Get(ctx context.Context, req *larkim.GetMessageResourceReq, options ...larkcore.RequestOptionFunc) (*larkim.GetMessageResourceResp, error)
}

type messageReactionAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReactionReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageReactionResp, error)
	Delete(ctx context.Context, req *larkim.DeleteMessageReactionReq, options ...larkcore.RequestOptionFunc) (*larkim.DeleteMessageReactionResp, error)
}

// Sender is the outbound half of the platform layer: text and card sends,
// the typing reaction, resource downloads, and quoted-message lookups.
type Sender struct {
	messages  messageAPI
	resources messageResourceAPI
	reactions messageReactionAPI
	logger    *slog.Logger
}

// NewSender creates a sender backed by the session's API client.
func NewSender(log *slog.Logger, session *Session) *Sender {
	if log == nil {
		log = slog.Default()
	}
	im := session.Client().Im.V1
	return &Sender{
		messages:  im.Message,
		resources: im.MessageResource,
		reactions: im.MessageReaction,
		logger:    log.With(slog.String("component", "feishu_sender")),
	}
}

// SendText delivers a plain-text message. replyTo threads the message under
// an existing one; empty sends top-level to the conversation.
func (s *Sender) SendText(ctx context.Context, conversationID, text, replyTo string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal text content: %w", err)
	}
	return s.send(ctx, conversationID, larkim.MsgTypeText, string(content), replyTo)
}

// SendCard delivers an interactive card rendered from markdown body text.
func (s *Sender) SendCard(ctx context.Context, conversationID, body, replyTo string) error {
	content, err := buildCardContent(body)
	if err != nil {
		return fmt.Errorf("build card content: %w", err)
	}
	return s.send(ctx, conversationID, larkim.MsgTypeInteractive, content, replyTo)
}

func (s *Sender) send(ctx context.Context, conversationID, msgType, content, replyTo string) error {
	if replyTo != "" {
		req := larkim.NewReplyMessageReqBuilder().
			MessageId(replyTo).
			Body(larkim.NewReplyMessageReqBodyBuilder().
				Content(content).
				MsgType(msgType).
				Uuid(uuid.NewString()).
				Build()).
			Build()
		resp, err := s.messages.Reply(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil || !resp.Success() {
			code, msg := 0, ""
			if resp != nil {
				code, msg = resp.Code, resp.Msg
			}
			return fmt.Errorf("feishu reply failed: %s (code: %d)", msg, code)
		}
		return nil
	}

	receiveID, receiveType := resolveReceiveID(conversationID)
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(receiveID).
			MsgType(msgType).
			Content(content).
			Uuid(uuid.NewString()).
			Build()).
		Build()
	resp, err := s.messages.Create(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return fmt.Errorf("feishu send failed: %s (code: %d)", msg, code)
	}
	return nil
}

// Start adds the typing reaction to the message and returns its reaction id.
func (s *Sender) Start(ctx context.Context, messageID string) (string, error) {
	req := larkim.NewCreateMessageReactionReqBuilder().
		MessageId(messageID).
		Body(larkim.NewCreateMessageReactionReqBodyBuilder().
			ReactionType(larkim.NewEmojiBuilder().EmojiType(typingReactionType).Build()).
			Build()).
		Build()
	resp, err := s.reactions.Create(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return "", fmt.Errorf("feishu add reaction failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.ReactionId == nil || strings.TrimSpace(*resp.Data.ReactionId) == "" {
		return "", fmt.Errorf("feishu add reaction failed: empty reaction id")
	}
	return strings.TrimSpace(*resp.Data.ReactionId), nil
}

// Stop removes the typing reaction identified by token.
func (s *Sender) Stop(ctx context.Context, messageID, token string) error {
	req := larkim.NewDeleteMessageReactionReqBuilder().
		MessageId(messageID).
		ReactionId(token).
		Build()
	resp, err := s.reactions.Delete(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return fmt.Errorf("feishu remove reaction failed: %s (code: %d)", msg, code)
	}
	return nil
}

// Download fetches one message resource. Images and stickers go through the
// image resource type, everything else is a file.
func (s *Sender) Download(ctx context.Context, messageID, key string, kind bridge.MediaKind) (bridge.MediaPayload, error) {
	resourceType := "file"
	if kind == bridge.MediaImage || kind == bridge.MediaSticker {
		resourceType = "image"
	}
	req := larkim.NewGetMessageResourceReqBuilder().
		MessageId(messageID).
		FileKey(key).
		Type(resourceType).
		Build()
	resp, err := s.resources.Get(ctx, req)
	if err != nil {
		return bridge.MediaPayload{}, fmt.Errorf("download feishu resource: %w", err)
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return bridge.MediaPayload{}, fmt.Errorf("download feishu resource: %s (code: %d)", msg, code)
	}
	if resp.File == nil {
		return bridge.MediaPayload{}, fmt.Errorf("download feishu resource: empty payload")
	}
	data, err := io.ReadAll(resp.File)
	if err != nil {
		return bridge.MediaPayload{}, fmt.Errorf("read feishu resource: %w", err)
	}
	return bridge.MediaPayload{Data: data, Name: strings.TrimSpace(resp.FileName)}, nil
}

// FetchMessageText loads the plain text of a message for quoting. Non-text
// messages yield an empty string without error.
func (s *Sender) FetchMessageText(ctx context.Context, messageID string) (string, error) {
	req := larkim.NewGetMessageReqBuilder().
		MessageId(messageID).
		Build()
	resp, err := s.messages.Get(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return "", fmt.Errorf("feishu get message failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 {
		return "", nil
	}
	item := resp.Data.Items[0]
	if item == nil || item.Body == nil || item.Body.Content == nil {
		return "", nil
	}
	return extractMessageText(deref(item.MsgType), *item.Body.Content), nil
}

func extractMessageText(msgType, raw string) string {
	switch msgType {
	case larkim.MsgTypeText:
		var body textContent
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return ""
		}
		return strings.TrimSpace(body.Text)
	case larkim.MsgTypePost:
		var body postContent
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return ""
		}
		return postText(body)
	default:
		return ""
	}
}

// buildCardContent wraps markdown in the interactive-card JSON the platform
// renders with its lark_md dialect.
func buildCardContent(body string) (string, error) {
	card := map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
			"enable_forward":   true,
			"update_multi":     true,
		},
		"elements": []map[string]any{
			{
				"tag": "div",
				"fields": []map[string]any{
					{
						"is_short": false,
						"text": map[string]any{
							"tag":     "lark_md",
							"content": body,
						},
					},
				},
			},
		},
	}
	data, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// resolveReceiveID parses an optional open_id:/user_id:/chat_id: prefix.
// Bare ids are treated as chat ids, which is what conversation ids are.
func resolveReceiveID(raw string) (string, string) {
	switch {
	case strings.HasPrefix(raw, "open_id:"):
		return strings.TrimPrefix(raw, "open_id:"), larkim.ReceiveIdTypeOpenId
	case strings.HasPrefix(raw, "user_id:"):
		return strings.TrimPrefix(raw, "user_id:"), larkim.ReceiveIdTypeUserId
	case strings.HasPrefix(raw, "chat_id:"):
		return strings.TrimPrefix(raw, "chat_id:"), larkim.ReceiveIdTypeChatId
	default:
		return raw, larkim.ReceiveIdTypeChatId
	}
}
