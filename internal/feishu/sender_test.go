package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/zq940222/openclaw-feishu/internal/bridge"
)

type fakeMessageAPI struct {
	created  []*larkim.CreateMessageReq
	replied  []*larkim.ReplyMessageReq
	getResp  *larkim.GetMessageResp
	sendErr  error
	replyErr error
}

func (f *fakeMessageAPI) Create(_ context.Context, req *larkim.CreateMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.created = append(f.created, req)
	return &larkim.CreateMessageResp{}, nil
}

func (f *fakeMessageAPI) Reply(_ context.Context, req *larkim.ReplyMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error) {
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	f.replied = append(f.replied, req)
	return &larkim.ReplyMessageResp{}, nil
}

func (f *fakeMessageAPI) Get(_ context.Context, _ *larkim.GetMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.GetMessageResp, error) {
	return f.getResp, nil
}

type fakeResourceAPI struct {
	resp *larkim.GetMessageResourceResp
	err  error
}

func (f *fakeResourceAPI) Get(_ context.Context, _ *larkim.GetMessageResourceReq, _ ...larkcore.RequestOptionFunc) (*larkim.GetMessageResourceResp, error) {
	return f.resp, f.err
}

type fakeReactionAPI struct {
	createResp *larkim.CreateMessageReactionResp
	createErr  error
	deleted    int
}

func (f *fakeReactionAPI) Create(_ context.Context, _ *larkim.CreateMessageReactionReq, _ ...larkcore.RequestOptionFunc) (*larkim.CreateMessageReactionResp, error) {
	return f.createResp, f.createErr
}

func (f *fakeReactionAPI) Delete(_ context.Context, _ *larkim.DeleteMessageReactionReq, _ ...larkcore.RequestOptionFunc) (*larkim.DeleteMessageReactionResp, error) {
	f.deleted++
	return &larkim.DeleteMessageReactionResp{}, nil
}

func newTestSender(messages messageAPI, resources messageResourceAPI, reactions messageReactionAPI) *Sender {
	return &Sender{
		messages:  messages,
		resources: resources,
		reactions: reactions,
		logger:    slog.Default(),
	}
}

func TestSendTextTopLevel(t *testing.T) {
	t.Parallel()
	api := &fakeMessageAPI{}
	s := newTestSender(api, nil, nil)
	if err := s.SendText(context.Background(), "oc_1", "hello", ""); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(api.created) != 1 || len(api.replied) != 0 {
		t.Fatalf("created=%d replied=%d", len(api.created), len(api.replied))
	}
	body := api.created[0].Body
	if body == nil || body.Content == nil {
		t.Fatalf("empty request body")
	}
	var content map[string]string
	if err := json.Unmarshal([]byte(*body.Content), &content); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if content["text"] != "hello" {
		t.Fatalf("content = %v", content)
	}
	if body.Uuid == nil || strings.TrimSpace(*body.Uuid) == "" {
		t.Fatalf("send must carry an idempotency uuid")
	}
}

func TestSendTextThreadsReply(t *testing.T) {
	t.Parallel()
	api := &fakeMessageAPI{}
	s := newTestSender(api, nil, nil)
	if err := s.SendText(context.Background(), "oc_1", "hello", "om_parent"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if len(api.replied) != 1 || len(api.created) != 0 {
		t.Fatalf("reply-to send must use the reply API")
	}
}

func TestSendCardWrapsMarkdown(t *testing.T) {
	t.Parallel()
	api := &fakeMessageAPI{}
	s := newTestSender(api, nil, nil)
	if err := s.SendCard(context.Background(), "oc_1", "**Title**\nbody", ""); err != nil {
		t.Fatalf("SendCard: %v", err)
	}
	body := api.created[0].Body
	if body.MsgType == nil || *body.MsgType != larkim.MsgTypeInteractive {
		t.Fatalf("card must send as interactive message")
	}
	var card struct {
		Config struct {
			WideScreenMode bool `json:"wide_screen_mode"`
		} `json:"config"`
		Elements []struct {
			Tag    string `json:"tag"`
			Fields []struct {
				Text struct {
					Tag     string `json:"tag"`
					Content string `json:"content"`
				} `json:"text"`
			} `json:"fields"`
		} `json:"elements"`
	}
	if err := json.Unmarshal([]byte(*body.Content), &card); err != nil {
		t.Fatalf("card content is not JSON: %v", err)
	}
	if !card.Config.WideScreenMode {
		t.Fatalf("wide_screen_mode not set")
	}
	if len(card.Elements) != 1 || card.Elements[0].Tag != "div" {
		t.Fatalf("elements = %+v", card.Elements)
	}
	field := card.Elements[0].Fields[0].Text
	if field.Tag != "lark_md" || field.Content != "**Title**\nbody" {
		t.Fatalf("field = %+v", field)
	}
}

func TestSendSurfacesAPIError(t *testing.T) {
	t.Parallel()
	api := &fakeMessageAPI{sendErr: errors.New("network down")}
	s := newTestSender(api, nil, nil)
	if err := s.SendText(context.Background(), "oc_1", "hello", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTypingStartStop(t *testing.T) {
	t.Parallel()
	id := "rx_1"
	reactions := &fakeReactionAPI{
		createResp: &larkim.CreateMessageReactionResp{
			Data: &larkim.CreateMessageReactionRespData{ReactionId: &id},
		},
	}
	s := newTestSender(nil, nil, reactions)
	token, err := s.Start(context.Background(), "om_1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if token != "rx_1" {
		t.Fatalf("token = %q", token)
	}
	if err := s.Stop(context.Background(), "om_1", token); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if reactions.deleted != 1 {
		t.Fatalf("deleted = %d", reactions.deleted)
	}
}

func TestTypingStartFailureCode(t *testing.T) {
	t.Parallel()
	resp := &larkim.CreateMessageReactionResp{}
	resp.CodeError = larkcore.CodeError{Code: 99991663, Msg: "permission denied"}
	reactions := &fakeReactionAPI{createResp: resp}
	s := newTestSender(nil, nil, reactions)
	if _, err := s.Start(context.Background(), "om_1"); err == nil {
		t.Fatalf("expected error from failed reaction")
	}
}

func TestDownloadResource(t *testing.T) {
	t.Parallel()
	resp := &larkim.GetMessageResourceResp{
		File:     bytes.NewReader([]byte("payload-bytes")),
		FileName: "voice.ogg",
	}
	s := newTestSender(nil, &fakeResourceAPI{resp: resp}, nil)
	payload, err := s.Download(context.Background(), "om_1", "file_key_1", bridge.MediaAudio)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(payload.Data) != "payload-bytes" || payload.Name != "voice.ogg" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestFetchMessageText(t *testing.T) {
	t.Parallel()
	content := `{"text":"the original"}`
	msgType := larkim.MsgTypeText
	api := &fakeMessageAPI{
		getResp: &larkim.GetMessageResp{
			Data: &larkim.GetMessageRespData{
				Items: []*larkim.Message{
					{MsgType: &msgType, Body: &larkim.MessageBody{Content: &content}},
				},
			},
		},
	}
	s := newTestSender(api, nil, nil)
	text, err := s.FetchMessageText(context.Background(), "om_1")
	if err != nil {
		t.Fatalf("FetchMessageText: %v", err)
	}
	if text != "the original" {
		t.Fatalf("text = %q", text)
	}
}

func TestFetchMessageTextNonText(t *testing.T) {
	t.Parallel()
	content := `{"image_key":"img_1"}`
	msgType := larkim.MsgTypeImage
	api := &fakeMessageAPI{
		getResp: &larkim.GetMessageResp{
			Data: &larkim.GetMessageRespData{
				Items: []*larkim.Message{
					{MsgType: &msgType, Body: &larkim.MessageBody{Content: &content}},
				},
			},
		},
	}
	s := newTestSender(api, nil, nil)
	text, err := s.FetchMessageText(context.Background(), "om_1")
	if err != nil {
		t.Fatalf("FetchMessageText: %v", err)
	}
	if text != "" {
		t.Fatalf("non-text message should quote as empty, got %q", text)
	}
}

func TestResolveReceiveID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw      string
		wantID   string
		wantType string
	}{
		{"oc_chat", "oc_chat", larkim.ReceiveIdTypeChatId},
		{"chat_id:oc_chat", "oc_chat", larkim.ReceiveIdTypeChatId},
		{"open_id:ou_user", "ou_user", larkim.ReceiveIdTypeOpenId},
		{"user_id:u_1", "u_1", larkim.ReceiveIdTypeUserId},
	}
	for _, tc := range cases {
		id, idType := resolveReceiveID(tc.raw)
		if id != tc.wantID || idType != tc.wantType {
			t.Fatalf("resolveReceiveID(%q) = %q %q", tc.raw, id, idType)
		}
	}
}
