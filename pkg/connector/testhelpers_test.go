// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	posts []*model.Post

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// Posts returns the posts created through POST /api/v4/posts.
func (f *fakeMM) Posts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]*model.Post, len(f.posts))
	copy(cp, f.posts)
	return cp
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	// Check if this endpoint should fail.
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		f.mu.Lock()
		f.posts = append(f.posts, &post)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// fakePiazza simulates the Piazza /logic/api endpoint with canned posts.
type fakePiazza struct {
	Server *httptest.Server

	mu      sync.Mutex
	methods []string

	// Posts maps post number to the raw JSON "result" object.
	Posts map[int]string
	// Users is the raw JSON array returned by network.get_users.
	Users string
}

func newFakePiazza() *fakePiazza {
	f := &fakePiazza{Posts: make(map[int]string), Users: "[]"}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakePiazza) Close() { f.Server.Close() }

func (f *fakePiazza) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakePiazza) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()

	reply := func(result, errJSON string) {
		_, _ = w.Write([]byte(`{"result":` + result + `,"error":` + errJSON + `}`))
	}
	switch req.Method {
	case "user.login":
		if req.Params["pass"] != "secret" {
			reply("null", `"Email or password is incorrect"`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "sess", Path: "/"})
		reply(`"OK"`, "null")
	case "content.get":
		if r.Header.Get("CSRF-Token") != "sess" {
			reply("null", `"Not logged in"`)
			return
		}
		nr, _ := req.Params["cid"].(float64)
		if post, ok := f.Posts[int(nr)]; ok {
			reply(post, "null")
			return
		}
		reply("null", `"Content not found"`)
	case "network.get_users":
		reply(f.Users, "null")
	default:
		reply("null", `"Unknown method"`)
	}
}

// piazzaPost returns the JSON for a post with one revision.
func piazzaPost(nr int, subject, uid string) string {
	p := map[string]any{
		"id":           "id",
		"nr":           nr,
		"unique_views": 3,
		"folders":      []string{"hw1"},
		"history": []map[string]string{{
			"subject": subject,
			"content": "<p><b>Body</b></p>",
			"uid":     uid,
			"anon":    "no",
			"created": "2024-01-01T00:00:00Z",
		}},
	}
	data, _ := json.Marshal(p)
	return string(data)
}

// fakeMatrix simulates the room send endpoint of a Matrix homeserver.
type fakeMatrix struct {
	Server *httptest.Server

	mu     sync.Mutex
	events []map[string]any
	paths  []string
	Fail   bool
}

func newFakeMatrix() *fakeMatrix {
	f := &fakeMatrix{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMatrix) Close() { f.Server.Close() }

func (f *fakeMatrix) Events() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.events...)
}

func (f *fakeMatrix) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if f.Fail {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
		return
	}
	if r.Method != http.MethodPut || !strings.Contains(r.URL.Path, "/send/m.room.message/") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errcode":"M_UNRECOGNIZED","error":"unrecognized"}`))
		return
	}
	var content map[string]any
	_ = json.NewDecoder(r.Body).Decode(&content)
	f.mu.Lock()
	f.events = append(f.events, content)
	f.paths = append(f.paths, r.URL.EscapedPath())
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"event_id":"$event1"}`))
}

// testConfig returns a post-processed config pointing at the fakes.
func testConfig(t *testing.T, piazzaURL string) Config {
	t.Helper()
	cfg := Config{
		Mattermost: MattermostConfig{ServerURL: "http://mm.invalid", Token: "test-token", ReplyInThread: true},
		Piazza: PiazzaConfig{
			BaseURL:  piazzaURL,
			Email:    "bot@example.com",
			Password: "secret",
			ClassID:  "abc",
		},
		SlashCommand: SlashCommandConfig{Enabled: true, Token: "slash-token"},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestConnector creates an initialized connector backed by fake Piazza.
func newTestConnector(t *testing.T, cfg Config) *LinkerConnector {
	t.Helper()
	lc := NewLinkerConnector(cfg, zerolog.Nop())
	if err := lc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return lc
}

// newTestClient creates a MattermostClient for lc talking to the fake
// Mattermost server, without a WebSocket connection.
func newTestClient(lc *LinkerConnector, serverURL string) *MattermostClient {
	mc := NewMattermostClient(lc, serverURL, "test-token")
	mc.userID = "bot-user-id"
	mc.username = "piazzabot"
	return mc
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post as JSON.
func postedEvent(t *testing.T, post *model.Post, senderName string) *model.WebSocketEvent {
	t.Helper()
	data, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("marshal post: %v", err)
	}
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(data),
		"sender_name": senderName,
	})
}
