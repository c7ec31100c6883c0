// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Mattermost markdown to Matrix HTML.
package matrixfmt

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

// getMarkdown returns the shared goldmark instance. Its configuration never
// changes, and goldmark.Markdown is safe for concurrent Convert calls.
func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			// Mattermost renders single newlines as line breaks.
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		)
	})
	return markdown
}

// Render converts Mattermost markdown to a Matrix notice. Text without any
// formatting is sent as a plain body. Raw HTML in the input is omitted and
// unsafe link targets are dropped.
func Render(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if text == "" {
		return content
	}

	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(text), &buf); err != nil {
		return content
	}
	formatted := strings.TrimSpace(buf.String())
	if formatted == "" || formatted == "<p>"+html.EscapeString(text)+"</p>" {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = formatted
	return content
}
