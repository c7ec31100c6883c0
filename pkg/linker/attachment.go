// Copyright 2024-2026 Aiku AI

package linker

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-piazza-linker/pkg/piazza"
)

// Attachment renders a post preview. user is the author of the latest
// revision and may be nil when unknown.
func (l *Linker) Attachment(post *piazza.Post, user *piazza.User) *model.SlackAttachment {
	latest, _ := post.Latest()
	label := fmt.Sprintf("Piazza post @%d", post.Number)

	author := fmt.Sprintf("(UID=%s)", latest.UID)
	if user != nil && user.Name != "" {
		author = user.Name
	}
	if latest.Anon == piazza.AnonStudent {
		author += " (anonymous)"
	}

	tags := "(none)"
	if len(post.Folders) > 0 {
		tags = strings.Join(post.Folders, ", ")
	}

	return &model.SlackAttachment{
		Fallback:   label,
		Pretext:    label,
		AuthorName: author,
		Title:      latest.Subject,
		TitleLink:  l.URL(post.Number),
		Text:       l.convertHTML(latest.Content),
		Fields: []*model.SlackAttachmentField{
			{Title: "created", Value: latest.Created, Short: true},
			{Title: "views", Value: post.UniqueViews, Short: true},
			{Title: "tags", Value: tags, Short: true},
		},
	}
}

// Attachments renders previews for posts, resolving all authors with a
// single user lookup. A failed lookup leaves the authors unknown.
func (l *Linker) Attachments(ctx context.Context, posts []*piazza.Post) []*model.SlackAttachment {
	if len(posts) == 0 {
		return nil
	}

	var uids []string
	seen := make(map[string]struct{})
	for _, p := range posts {
		latest, ok := p.Latest()
		if !ok || latest.UID == "" {
			continue
		}
		if _, dup := seen[latest.UID]; !dup {
			seen[latest.UID] = struct{}{}
			uids = append(uids, latest.UID)
		}
	}

	users := make(map[string]*piazza.User, len(uids))
	if len(uids) > 0 {
		found, err := l.lookup.GetUsers(ctx, l.classID, uids)
		if err != nil {
			l.log.Warn().Err(err).Int("count", len(uids)).Msg("Failed to look up Piazza authors")
		}
		for _, u := range found {
			users[u.ID] = u
		}
	}

	attachments := make([]*model.SlackAttachment, len(posts))
	for i, p := range posts {
		latest, _ := p.Latest()
		attachments[i] = l.Attachment(p, users[latest.UID])
	}
	return attachments
}
