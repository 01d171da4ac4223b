package feishu

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkcontact "github.com/larksuite/oapi-sdk-go/v3/service/contact/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

func boolPtr(b bool) *bool { return &b }

type fakeContactAPI struct {
	resp  *larkcontact.GetUserResp
	err   error
	calls int
}

func (f *fakeContactAPI) Get(_ context.Context, _ *larkcontact.GetUserReq, _ ...larkcore.RequestOptionFunc) (*larkcontact.GetUserResp, error) {
	f.calls++
	return f.resp, f.err
}

type fakeChatMembersAPI struct {
	resp  *larkim.GetChatMembersResp
	err   error
	calls int
}

func (f *fakeChatMembersAPI) Get(_ context.Context, _ *larkim.GetChatMembersReq, _ ...larkcore.RequestOptionFunc) (*larkim.GetChatMembersResp, error) {
	f.calls++
	return f.resp, f.err
}

func newTestDirectory(contacts contactUserAPI, members chatMembersAPI) *Directory {
	return &Directory{
		contacts:    contacts,
		chatMembers: members,
		logger:      slog.Default(),
		names:       make(map[string]string),
	}
}

func memberRoster(entries map[string]string) *larkim.GetChatMembersResp {
	items := make([]*larkim.ListMember, 0, len(entries))
	for id, name := range entries {
		items = append(items, &larkim.ListMember{MemberId: strPtr(id), Name: strPtr(name)})
	}
	return &larkim.GetChatMembersResp{
		Data: &larkim.GetChatMembersRespData{Items: items, HasMore: boolPtr(false)},
	}
}

func TestDisplayNamePrefersGroupRoster(t *testing.T) {
	t.Parallel()
	contacts := &fakeContactAPI{}
	members := &fakeChatMembersAPI{resp: memberRoster(map[string]string{"ou_alice": "Alice"})}
	d := newTestDirectory(contacts, members)

	if got := d.DisplayName(context.Background(), "oc_g1", "ou_alice"); got != "Alice" {
		t.Fatalf("DisplayName = %q, want Alice", got)
	}
	if contacts.calls != 0 {
		t.Fatalf("contact API should not be consulted when the roster answers")
	}
}

func TestDisplayNameFallsBackToContact(t *testing.T) {
	t.Parallel()
	contacts := &fakeContactAPI{resp: &larkcontact.GetUserResp{
		Data: &larkcontact.GetUserRespData{User: &larkcontact.User{Name: strPtr("Bob")}},
	}}
	members := &fakeChatMembersAPI{resp: memberRoster(nil)}
	d := newTestDirectory(contacts, members)

	if got := d.DisplayName(context.Background(), "oc_g1", "ou_bob"); got != "Bob" {
		t.Fatalf("DisplayName = %q, want Bob", got)
	}
	if members.calls != 1 || contacts.calls != 1 {
		t.Fatalf("roster then contact expected, got members=%d contacts=%d", members.calls, contacts.calls)
	}
}

func TestDisplayNameDirectMessageSkipsRoster(t *testing.T) {
	t.Parallel()
	contacts := &fakeContactAPI{resp: &larkcontact.GetUserResp{
		Data: &larkcontact.GetUserRespData{User: &larkcontact.User{Name: strPtr("Carol")}},
	}}
	members := &fakeChatMembersAPI{}
	d := newTestDirectory(contacts, members)

	if got := d.DisplayName(context.Background(), "", "ou_carol"); got != "Carol" {
		t.Fatalf("DisplayName = %q, want Carol", got)
	}
	if members.calls != 0 {
		t.Fatalf("roster must not be consulted without a chat id")
	}
}

func TestDisplayNameCachesPerSender(t *testing.T) {
	t.Parallel()
	members := &fakeChatMembersAPI{resp: memberRoster(map[string]string{"ou_alice": "Alice"})}
	d := newTestDirectory(&fakeContactAPI{}, members)

	d.DisplayName(context.Background(), "oc_g1", "ou_alice")
	d.DisplayName(context.Background(), "oc_g1", "ou_alice")
	if members.calls != 1 {
		t.Fatalf("second lookup should come from the cache, got %d calls", members.calls)
	}
}

func TestDisplayNameLookupFailureDegrades(t *testing.T) {
	t.Parallel()
	contacts := &fakeContactAPI{err: errors.New("scope missing")}
	members := &fakeChatMembersAPI{err: errors.New("scope missing")}
	d := newTestDirectory(contacts, members)

	if got := d.DisplayName(context.Background(), "oc_g1", "ou_alice"); got != "" {
		t.Fatalf("failed lookup should yield empty name, got %q", got)
	}
}
