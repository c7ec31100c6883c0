// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
)

type handlerFixture struct {
	mm     *fakeMM
	pz     *fakePiazza
	lc     *LinkerConnector
	client *MattermostClient
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mm := newFakeMM()
	t.Cleanup(mm.Close)
	pz := newFakePiazza()
	t.Cleanup(pz.Close)

	pz.Posts[19] = piazzaPost(19, "HW1 question", "u1")
	pz.Users = `[{"id":"u1","name":"Alice"}]`
	mm.Users["sender-id"] = &model.User{Id: "sender-id", Username: "bob"}

	lc := newTestConnector(t, testConfig(t, pz.Server.URL))
	return &handlerFixture{mm: mm, pz: pz, lc: lc, client: newTestClient(lc, mm.Server.URL)}
}

func TestParsePostedEvent(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.lc.Config.Mattermost.BotPrefix = "bot-"

	tests := []struct {
		name       string
		post       *model.Post
		sender     string
		wantPost   bool
		wantSender string
	}{
		{
			name:       "regular post",
			post:       &model.Post{Id: "p1", UserId: "sender-id", ChannelId: "ch", Message: "see @19"},
			sender:     "@bob",
			wantPost:   true,
			wantSender: "bob",
		},
		{
			name:     "own post",
			post:     &model.Post{Id: "p2", UserId: "bot-user-id", ChannelId: "ch", Message: "@19"},
			sender:   "@piazzabot",
			wantPost: false,
		},
		{
			name:     "system post",
			post:     &model.Post{Id: "p3", UserId: "sender-id", ChannelId: "ch", Type: model.PostTypeJoinChannel},
			sender:   "@bob",
			wantPost: false,
		},
		{
			name:     "bot prefix",
			post:     &model.Post{Id: "p4", UserId: "other", ChannelId: "ch", Message: "@19"},
			sender:   "@bot-relay",
			wantPost: false,
		},
		{
			name:       "missing sender name",
			post:       &model.Post{Id: "p5", UserId: "sender-id", ChannelId: "ch", Message: "@19"},
			sender:     "",
			wantPost:   true,
			wantSender: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, sender, err := f.client.parsePostedEvent(postedEvent(t, tt.post, tt.sender))
			if err != nil {
				t.Fatalf("parsePostedEvent: %v", err)
			}
			if (post != nil) != tt.wantPost {
				t.Fatalf("post = %v, want post: %v", post, tt.wantPost)
			}
			if tt.wantPost && sender != tt.wantSender {
				t.Errorf("sender = %q, want %q", sender, tt.wantSender)
			}
		})
	}
}

func TestParsePostedEvent_BadData(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	evt := newWebSocketEvent(model.WebsocketEventPosted, "ch", map[string]any{})
	if _, _, err := f.client.parsePostedEvent(evt); err == nil {
		t.Error("expected error for missing post data")
	}

	evt = newWebSocketEvent(model.WebsocketEventPosted, "ch", map[string]any{"post": "{not json"})
	if _, _, err := f.client.parsePostedEvent(evt); err == nil {
		t.Error("expected error for invalid post JSON")
	}
}

func TestIsBotUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		username, prefix string
		want             bool
	}{
		{"bot-relay", "bot-", true},
		{"bob", "bot-", false},
		{"bot-relay", "", false},
		{"", "bot-", false},
	}
	for _, tt := range tests {
		if got := isBotUsername(tt.username, tt.prefix); got != tt.want {
			t.Errorf("isBotUsername(%q, %q) = %v, want %v", tt.username, tt.prefix, got, tt.want)
		}
	}
}

func TestHandlePost_RepliesInThread(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "see @19 and @404"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err != nil {
		t.Fatalf("handlePost: %v", err)
	}

	posts := f.mm.Posts()
	if len(posts) != 1 {
		t.Fatalf("created %d posts, want 1", len(posts))
	}
	got := posts[0]
	if got.ChannelId != "ch" {
		t.Errorf("ChannelId = %q, want ch", got.ChannelId)
	}
	if got.RootId != "src" {
		t.Errorf("RootId = %q, want src", got.RootId)
	}
	if !strings.HasPrefix(got.Message, "@bob: Linked Piazza post: [@19](") {
		t.Errorf("Message = %q", got.Message)
	}
	if !strings.Contains(got.Message, "Could not fetch Piazza post: @404") {
		t.Errorf("Message missing failure line: %q", got.Message)
	}

	attachments := got.Attachments()
	if len(attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(attachments))
	}
	if attachments[0].Title != "HW1 question" {
		t.Errorf("Title = %q", attachments[0].Title)
	}
	if attachments[0].AuthorName != "Alice" {
		t.Errorf("AuthorName = %q, want Alice", attachments[0].AuthorName)
	}
	if attachments[0].Text != "**Body**" {
		t.Errorf("Text = %q, want **Body**", attachments[0].Text)
	}
}

func TestHandlePost_KeepsExistingThread(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "reply", RootId: "root", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err != nil {
		t.Fatalf("handlePost: %v", err)
	}
	posts := f.mm.Posts()
	if len(posts) != 1 || posts[0].RootId != "root" {
		t.Fatalf("posts = %+v, want one reply rooted at root", posts)
	}
}

func TestHandlePost_ChannelReply(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.lc.Config.Mattermost.ReplyInThread = false

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err != nil {
		t.Fatalf("handlePost: %v", err)
	}
	posts := f.mm.Posts()
	if len(posts) != 1 || posts[0].RootId != "" {
		t.Fatalf("posts = %+v, want one top-level reply", posts)
	}
}

func TestHandlePost_LooksUpSender(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	if err := f.client.handlePost(context.Background(), src, ""); err != nil {
		t.Fatalf("handlePost: %v", err)
	}
	if !f.mm.CalledPath("/api/v4/users/sender-id") {
		t.Error("expected a user lookup for the sender")
	}
	posts := f.mm.Posts()
	if len(posts) != 1 || !strings.HasPrefix(posts[0].Message, "@bob: ") {
		t.Fatalf("posts = %+v, want reply addressed to bob", posts)
	}
}

func TestHandlePost_NoMentions(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "email me at a@b.c"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err != nil {
		t.Fatalf("handlePost: %v", err)
	}
	if len(f.mm.Posts()) != 0 {
		t.Error("expected no reply for a message without mentions")
	}
}

func TestHandlePost_CreateFails(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.mm.FailEndpoints["/api/v4/posts"] = true

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err == nil {
		t.Fatal("expected error when the reply cannot be created")
	}
}

func TestHandlePost_Mirrors(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	mx := newFakeMatrix()
	t.Cleanup(mx.Close)

	mirror, err := NewMatrixMirror(MatrixConfig{
		Enabled:       true,
		HomeserverURL: mx.Server.URL,
		UserID:        "@piazza:example.com",
		AccessToken:   "mx-token",
		RoomID:        "!room:example.com",
	}, f.lc.Log)
	if err != nil {
		t.Fatalf("NewMatrixMirror: %v", err)
	}
	f.lc.mirror = mirror

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	if err := f.client.handlePost(context.Background(), src, "bob"); err != nil {
		t.Fatalf("handlePost: %v", err)
	}
	events := mx.Events()
	if len(events) != 1 {
		t.Fatalf("mirrored %d events, want 1", len(events))
	}
	body, _ := events[0]["body"].(string)
	if !strings.HasPrefix(body, "**bob**: Linked Piazza post") {
		t.Errorf("body = %q", body)
	}
}

func TestHandleEvent_IgnoresOtherEvents(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	f.client.handleEvent(newWebSocketEvent(model.WebsocketEventTyping, "ch", map[string]any{}))
	f.client.Disconnect()
	if len(f.mm.Posts()) != 0 {
		t.Error("expected no reply for a typing event")
	}
}

func TestHandleEvent_AnswersPost(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	f.client.handleEvent(postedEvent(t, src, "@bob"))
	// Disconnect waits for in-flight handlers.
	f.client.Disconnect()

	if len(f.mm.Posts()) != 1 {
		t.Fatalf("created %d posts, want 1", len(f.mm.Posts()))
	}
}

func TestHandleEvent_AfterStop(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)
	f.client.Disconnect()

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	f.client.handleEvent(postedEvent(t, src, "@bob"))
	if len(f.mm.Posts()) != 0 {
		t.Error("expected no reply after Disconnect")
	}
}

func TestHandleEvent_RacesDisconnect(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	src := &model.Post{Id: "src", UserId: "sender-id", ChannelId: "ch", Message: "@19"}
	evt := postedEvent(t, src, "@bob")

	var senders sync.WaitGroup
	for range 20 {
		senders.Add(1)
		go func() {
			defer senders.Done()
			f.client.handleEvent(evt)
		}()
	}
	f.client.Disconnect()
	// Every reply started before Disconnect has finished and none start after.
	afterStop := len(f.mm.Posts())
	senders.Wait()
	if got := len(f.mm.Posts()); got != afterStop {
		t.Errorf("%d replies posted after Disconnect returned", got-afterStop)
	}
}
