// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strings"

	"github.com/aiku/mattermost-piazza-linker/pkg/linker"
)

// replyMessage is the visible text of a bot reply.
func replyMessage(sender string, reply *linker.Reply) string {
	text := strings.TrimRight(reply.Text, "\n")
	if sender == "" {
		return text
	}
	return "@" + sender + ": " + text
}

// mirrorText renders a reply as markdown for the Matrix room.
func mirrorText(sender string, reply *linker.Reply) string {
	var b strings.Builder
	if sender != "" {
		b.WriteString("**" + sender + "**: ")
	}
	b.WriteString(strings.TrimRight(reply.Text, "\n"))
	for _, a := range reply.Attachments {
		fmt.Fprintf(&b, "\n- [%s](%s) by %s", a.Title, a.TitleLink, a.AuthorName)
	}
	return b.String()
}
