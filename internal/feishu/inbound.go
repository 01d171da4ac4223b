package feishu

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/zq940222/openclaw-feishu/internal/bridge"
)

// textContent is the body of a text message.
type textContent struct {
	Text string `json:"text"`
}

// mediaContent covers the single-key bodies: image, file, audio, media,
// sticker.
type mediaContent struct {
	ImageKey string `json:"image_key"`
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
}

// postContent is the body of a rich-text message.
type postContent struct {
	Title   string       `json:"title"`
	Content [][]postNode `json:"content"`
}

// postNode is one element in a rich-text line. The tag decides which fields
// are meaningful.
type postNode struct {
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Href     string `json:"href"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	ImageKey string `json:"image_key"`
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name"`
}

// ExtractInbound converts a message-received event into the canonical
// inbound form. botOpenID filters mentions to the bot itself; when it is
// empty, any mention counts as a bot mention. Malformed content falls back
// to the raw payload rather than an error, as do unknown message types.
func ExtractInbound(event *larkim.P2MessageReceiveV1, botOpenID string) bridge.InboundContext {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return bridge.InboundContext{ReceivedAt: time.Now().UTC()}
	}
	message := event.Event.Message

	in := bridge.InboundContext{
		ConversationID: deref(message.ChatId),
		MessageID:      deref(message.MessageId),
		ParentID:       deref(message.ParentId),
		RootID:         deref(message.RootId),
		Kind:           bridge.KindGroup,
		ReceivedAt:     time.Now().UTC(),
	}
	if deref(message.ChatType) == "p2p" {
		in.Kind = bridge.KindDirect
	}
	if sender := event.Event.Sender; sender != nil && sender.SenderId != nil {
		in.SenderID = deref(sender.SenderId.OpenId)
		if in.SenderID == "" {
			in.SenderID = deref(sender.SenderId.UserId)
		}
	}

	raw := deref(message.Content)
	msgType := ""
	if message.MessageType != nil {
		msgType = strings.TrimSpace(*message.MessageType)
	}
	in.ContentType = msgType

	switch msgType {
	case larkim.MsgTypeText:
		var body textContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		in.Text = stripMentions(body.Text, message.Mentions)
	case larkim.MsgTypePost:
		var body postContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		in.Text = postText(body)
		in.Media = postMedia(body)
	case larkim.MsgTypeImage:
		var body mediaContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		if body.ImageKey != "" {
			in.Media = append(in.Media, bridge.MediaReference{Kind: bridge.MediaImage, Key: body.ImageKey})
		}
	case larkim.MsgTypeFile:
		var body mediaContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		if body.FileKey != "" {
			in.Media = append(in.Media, bridge.MediaReference{Kind: bridge.MediaFile, Key: body.FileKey, Name: body.FileName})
		}
	case larkim.MsgTypeAudio:
		var body mediaContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		if body.FileKey != "" {
			in.Media = append(in.Media, bridge.MediaReference{Kind: bridge.MediaAudio, Key: body.FileKey})
		}
	case larkim.MsgTypeMedia:
		var body mediaContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		if body.FileKey != "" {
			in.Media = append(in.Media, bridge.MediaReference{Kind: bridge.MediaVideo, Key: body.FileKey, Name: body.FileName})
		}
	case larkim.MsgTypeSticker:
		var body mediaContent
		if !decodeContent(in.MessageID, raw, &body) {
			in.Text = raw
			break
		}
		if body.FileKey != "" {
			in.Media = append(in.Media, bridge.MediaReference{Kind: bridge.MediaSticker, Key: body.FileKey})
		}
	default:
		// Unknown message types pass their payload through untouched.
		in.Text = raw
	}

	in.Mentioned = isBotMentioned(message.Mentions, raw, botOpenID)
	return in
}

func decodeContent(messageID, raw string, out any) bool {
	if strings.TrimSpace(raw) == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		slog.Warn("feishu inbound: unmarshal content failed",
			slog.String("message_id", messageID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// stripMentions removes mention placeholders ("@_user_1") and the
// corresponding "@Name" forms from text. Stripping is idempotent: text
// without placeholders passes through unchanged.
func stripMentions(text string, mentions []*larkim.MentionEvent) string {
	for _, m := range mentions {
		if m == nil {
			continue
		}
		if key := strings.TrimSpace(deref(m.Key)); key != "" {
			text = strings.ReplaceAll(text, key, "")
		}
		if name := strings.TrimSpace(deref(m.Name)); name != "" {
			text = strings.ReplaceAll(text, "@"+name, "")
		}
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// isBotMentioned reports whether the bot itself is mentioned. With an empty
// botOpenID the identity is unknown, and any mention counts.
func isBotMentioned(mentions []*larkim.MentionEvent, rawContent, botOpenID string) bool {
	botOpenID = strings.TrimSpace(botOpenID)
	if botOpenID == "" {
		if len(mentions) > 0 {
			return true
		}
		return hasAtNode(rawContent, "")
	}
	for _, m := range mentions {
		if m == nil || m.Id == nil {
			continue
		}
		if strings.TrimSpace(deref(m.Id.OpenId)) == botOpenID {
			return true
		}
	}
	return hasAtNode(rawContent, botOpenID)
}

// hasAtNode scans rich-text content for at tags. openID empty matches any.
func hasAtNode(rawContent, openID string) bool {
	var body postContent
	if err := json.Unmarshal([]byte(rawContent), &body); err != nil {
		return false
	}
	for _, line := range body.Content {
		for _, node := range line {
			if !strings.EqualFold(strings.TrimSpace(node.Tag), "at") {
				continue
			}
			if openID == "" || strings.TrimSpace(node.UserID) == openID {
				return true
			}
		}
	}
	return false
}

func postText(body postContent) string {
	parts := make([]string, 0, 8)
	for _, line := range body.Content {
		for _, node := range line {
			switch strings.ToLower(strings.TrimSpace(node.Tag)) {
			case "text", "a":
				if text := strings.TrimSpace(node.Text); text != "" {
					parts = append(parts, text)
				}
			case "at":
				// Mentions are stripped from the body; detection reads the
				// raw content separately.
			case "img", "file", "media":
				// Media nodes become references, not text.
			default:
				if text := strings.TrimSpace(node.Text); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

func postMedia(body postContent) []bridge.MediaReference {
	var refs []bridge.MediaReference
	for _, line := range body.Content {
		for _, node := range line {
			switch strings.ToLower(strings.TrimSpace(node.Tag)) {
			case "img":
				if key := strings.TrimSpace(node.ImageKey); key != "" {
					refs = append(refs, bridge.MediaReference{Kind: bridge.MediaImage, Key: key})
				}
			case "file":
				if key := strings.TrimSpace(node.FileKey); key != "" {
					refs = append(refs, bridge.MediaReference{Kind: bridge.MediaFile, Key: key, Name: strings.TrimSpace(node.FileName)})
				}
			case "media":
				if key := strings.TrimSpace(node.FileKey); key != "" {
					refs = append(refs, bridge.MediaReference{Kind: bridge.MediaVideo, Key: key, Name: strings.TrimSpace(node.FileName)})
				}
			}
		}
	}
	return refs
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
