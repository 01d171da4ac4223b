package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

const (
	chatMembersPageSize  = 100
	chatMembersMaxPages  = 5
	profileLookupTimeout = 5 * time.Second
)

type contactUserAPI interface {
	Get(ctx context.Context, req *larkcontact.GetUserReq, options ...larkcore.RequestOptionFunc) (*larkcontact.GetUserResp, error)
}

type chatMembersAPI interface {
	Get(ctx context.Context, req *larkim.GetChatMembersReq, options ...larkcore.RequestOptionFunc) (*larkim.GetChatMembersResp, error)
}

// Directory resolves sender display names so allow-lists can match on names,
// not just ids. The group roster is tried first because it answers with a
// readable name even when contact scopes are limited; the contact API covers
// direct messages. Resolved names are cached per sender.
type Directory struct {
	contacts    contactUserAPI
	chatMembers chatMembersAPI
	logger      *slog.Logger

	mu    sync.Mutex
	names map[string]string
}

// NewDirectory creates a directory backed by the session's API client.
func NewDirectory(log *slog.Logger, session *Session) *Directory {
	if log == nil {
		log = slog.Default()
	}
	client := session.Client()
	return &Directory{
		contacts:    client.Contact.User,
		chatMembers: client.Im.ChatMembers,
		logger:      log.With(slog.String("component", "feishu_directory")),
		names:       make(map[string]string),
	}
}

// DisplayName resolves the human-readable name of senderID, looking at the
// roster of chatID when set. Lookup failures degrade to an empty name; name
// matching is additive and must never block an event.
func (d *Directory) DisplayName(ctx context.Context, chatID, senderID string) string {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return ""
	}
	d.mu.Lock()
	name, ok := d.names[senderID]
	d.mu.Unlock()
	if ok {
		return name
	}

	lookupCtx, cancel := context.WithTimeout(ctx, profileLookupTimeout)
	defer cancel()
	name, err := d.lookup(lookupCtx, strings.TrimSpace(chatID), senderID)
	if err != nil {
		d.logger.Debug("sender name lookup failed",
			slog.String("sender_id", senderID),
			slog.String("chat_id", chatID),
			slog.Any("error", err),
		)
		return ""
	}
	if name != "" {
		d.mu.Lock()
		d.names[senderID] = name
		d.mu.Unlock()
	}
	return name
}

func (d *Directory) lookup(ctx context.Context, chatID, senderID string) (string, error) {
	idType := "user_id"
	if strings.HasPrefix(senderID, "ou_") {
		idType = "open_id"
	}
	var lastErr error
	if chatID != "" && d.chatMembers != nil {
		name, err := d.memberName(ctx, chatID, idType, senderID)
		if err != nil {
			lastErr = err
		} else if name != "" {
			return name, nil
		}
	}
	if d.contacts != nil {
		name, err := d.contactName(ctx, idType, senderID)
		if err != nil {
			lastErr = err
		} else if name != "" {
			return name, nil
		}
	}
	return "", lastErr
}

func (d *Directory) contactName(ctx context.Context, idType, senderID string) (string, error) {
	userIDType := larkcontact.UserIdTypeUserId
	if idType == "open_id" {
		userIDType = larkcontact.UserIdTypeOpenId
	}
	req := larkcontact.NewGetUserReqBuilder().
		UserIdType(userIDType).
		UserId(senderID).
		Build()
	resp, err := d.contacts.Get(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || !resp.Success() {
		code, msg := 0, ""
		if resp != nil {
			code, msg = resp.Code, resp.Msg
		}
		return "", fmt.Errorf("feishu get user failed: %s (code: %d)", msg, code)
	}
	if resp.Data == nil || resp.Data.User == nil {
		return "", nil
	}
	name := deref(resp.Data.User.Name)
	if name == "" {
		name = deref(resp.Data.User.Nickname)
	}
	return name, nil
}

func (d *Directory) memberName(ctx context.Context, chatID, idType, senderID string) (string, error) {
	pageToken := ""
	for page := 0; page < chatMembersMaxPages; page++ {
		builder := larkim.NewGetChatMembersReqBuilder().
			ChatId(chatID).
			MemberIdType(idType).
			PageSize(chatMembersPageSize)
		if pageToken != "" {
			builder = builder.PageToken(pageToken)
		}
		resp, err := d.chatMembers.Get(ctx, builder.Build())
		if err != nil {
			return "", err
		}
		if resp == nil || !resp.Success() {
			code, msg := 0, ""
			if resp != nil {
				code, msg = resp.Code, resp.Msg
			}
			return "", fmt.Errorf("feishu get chat members failed: %s (code: %d)", msg, code)
		}
		if resp.Data == nil {
			return "", nil
		}
		for _, item := range resp.Data.Items {
			if item == nil || deref(item.MemberId) != senderID {
				continue
			}
			return deref(item.Name), nil
		}
		if resp.Data.HasMore == nil || !*resp.Data.HasMore || resp.Data.PageToken == nil {
			break
		}
		pageToken = strings.TrimSpace(*resp.Data.PageToken)
		if pageToken == "" {
			break
		}
	}
	return "", nil
}
