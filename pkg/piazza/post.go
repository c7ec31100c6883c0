// Copyright 2024-2026 Aiku AI

package piazza

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// postURLFormat is the public link to a post within a class.
const postURLFormat = "https://www.piazza.com/class/%s?cid=%d"

// AnonStudent marks a revision posted anonymously to classmates.
const AnonStudent = "stud"

// Post is a Piazza question or note.
type Post struct {
	ID          string
	Number      int
	UniqueViews int
	Folders     []string
	// History holds revisions newest first.
	History []Revision
}

// Revision is one edit of a post.
type Revision struct {
	Subject string
	Content string // HTML
	UID     string
	Anon    string
	Created string
}

// Latest returns the newest revision.
func (p *Post) Latest() (Revision, bool) {
	if p == nil || len(p.History) == 0 {
		return Revision{}, false
	}
	return p.History[0], true
}

// User is a class member as returned by network.get_users.
type User struct {
	ID    string
	Name  string
	Photo string
}

// PostURL returns the browser link for post number in classID.
func PostURL(classID string, number int) string {
	return fmt.Sprintf(postURLFormat, classID, number)
}

// GetPost fetches post number from the class classID.
func (c *Client) GetPost(ctx context.Context, classID string, number int) (*Post, error) {
	result, err := c.call(ctx, "content.get", map[string]any{
		"cid": number,
		"nid": classID,
	})
	if err != nil {
		return nil, err
	}
	if !result.IsObject() {
		return nil, &RequestError{Method: "content.get", Message: fmt.Sprintf("post %d not found", number)}
	}
	return parsePost(result), nil
}

// GetUsers looks up class members by ID. Unknown IDs are omitted.
func (c *Client) GetUsers(ctx context.Context, classID string, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	result, err := c.call(ctx, "network.get_users", map[string]any{
		"ids": ids,
		"nid": classID,
	})
	if err != nil {
		return nil, err
	}

	var users []*User
	for _, u := range result.Array() {
		if !u.IsObject() {
			continue
		}
		users = append(users, &User{
			ID:    u.Get("id").String(),
			Name:  u.Get("name").String(),
			Photo: u.Get("photo").String(),
		})
	}
	return users, nil
}

func parsePost(result gjson.Result) *Post {
	post := &Post{
		ID:          result.Get("id").String(),
		Number:      int(result.Get("nr").Int()),
		UniqueViews: int(result.Get("unique_views").Int()),
	}
	for _, folder := range result.Get("folders").Array() {
		if name := strings.TrimSpace(folder.String()); name != "" {
			post.Folders = append(post.Folders, name)
		}
	}
	for _, rev := range result.Get("history").Array() {
		post.History = append(post.History, Revision{
			Subject: rev.Get("subject").String(),
			Content: rev.Get("content").String(),
			UID:     rev.Get("uid").String(),
			Anon:    rev.Get("anon").String(),
			Created: rev.Get("created").String(),
		})
	}
	return post
}
