// Copyright 2024-2026 Aiku AI

package linker

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-piazza-linker/pkg/mention"
)

// Reply is the bot's answer to a chat message that mentions posts.
type Reply struct {
	Text        string
	Attachments []*model.SlackAttachment
	Failures    []Failure
}

// Reply builds the bot answer for a message. It returns nil when the
// message mentions no posts. Posts that cannot be fetched are listed in the
// text rather than failing the reply.
func (l *Linker) Reply(ctx context.Context, text string) (*Reply, error) {
	numbers, err := mention.ExtractIDs(text)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}

	res := l.Fetch(ctx, numbers)
	return &Reply{
		Text:        l.Summary(res.Posts, res.Failures),
		Attachments: l.Attachments(ctx, res.Posts),
		Failures:    res.Failures,
	}, nil
}

// Expansion is the slash command result: the input with every mention
// turned into a link, plus previews of the mentioned posts.
type Expansion struct {
	Text        string
	Attachments []*model.SlackAttachment
}

// Expand links every mention in text. Text consisting of a bare post
// number counts as a mention of that post. Any post that cannot be fetched
// fails the whole expansion.
func (l *Linker) Expand(ctx context.Context, text string) (*Expansion, error) {
	annotations, err := annotate(text)
	if err != nil {
		return nil, err
	}
	if len(annotations) == 0 {
		return &Expansion{Text: text}, nil
	}

	res := l.Fetch(ctx, mention.ReferenceIDs(annotations))
	if err := res.Err(); err != nil {
		return nil, err
	}

	linked, err := l.LinkMentions(text, annotations)
	if err != nil {
		return nil, fmt.Errorf("failed to link mentions: %w", err)
	}
	return &Expansion{
		Text:        linked,
		Attachments: l.Attachments(ctx, res.Posts),
	}, nil
}

func annotate(text string) ([]mention.Annotation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.TrimLeftFunc(trimmed, unicode.IsDigit) != "" {
		return mention.Match(text)
	}

	nr, err := mention.ParseDigits(trimmed)
	if err != nil {
		return nil, err
	}
	start := utf8.RuneCountInString(text[:strings.Index(text, trimmed)])
	length := utf8.RuneCountInString(trimmed)
	return []mention.Annotation{{
		ReferenceID: nr,
		Start:       start,
		Length:      length,
		NumIndex:    0,
		NumLength:   length,
	}}, nil
}
