// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-piazza-linker/pkg/linker"
)

// replyTimeout bounds the Piazza lookups and Mattermost calls for one post.
const replyTimeout = 30 * time.Second

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (m *MattermostClient) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		post, sender, err := m.parsePostedEvent(evt)
		if err != nil {
			m.log.Warn().Err(err).Msg("Failed to parse posted event")
			return
		}
		if post == nil {
			return
		}
		m.wsMu.Lock()
		if m.stopped {
			m.wsMu.Unlock()
			return
		}
		m.handlers.Add(1)
		m.wsMu.Unlock()
		go func() {
			defer m.handlers.Done()
			ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
			defer cancel()
			if err := m.handlePost(ctx, post, sender); err != nil {
				m.log.Error().Err(err).Str("post_id", post.Id).Msg("Failed to answer post")
			}
		}()
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts a post and its sender's username from a
// WebSocket event, applying all echo prevention layers. Returns a nil post
// to skip silently.
func (m *MattermostClient) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, string, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, "", fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if m.IsThisUser(post.UserId) {
		return nil, "", nil
	}

	// Echo prevention: skip non-default post types (system messages, our
	// own attachment replies).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, "", nil
	}

	// Echo prevention: skip posts from usernames matching the bot prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBotUsername(senderName, m.connector.Config.Mattermost.BotPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bot username post (echo prevention)")
		return nil, "", nil
	}

	return &post, senderName, nil
}

// isBotUsername reports whether username belongs to a bot whose posts must
// not be answered.
func isBotUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}

// handlePost answers a post that mentions Piazza posts.
func (m *MattermostClient) handlePost(ctx context.Context, post *model.Post, sender string) error {
	reply, err := m.connector.linker.Reply(ctx, post.Message)
	if err != nil {
		return fmt.Errorf("failed to resolve mentions: %w", err)
	}
	if reply == nil {
		return nil
	}

	if sender == "" {
		user, _, err := m.client.GetUser(ctx, post.UserId, "")
		if err != nil {
			m.log.Warn().Err(err).Str("user_id", post.UserId).Msg("Failed to look up sender")
		} else {
			sender = user.Username
		}
	}

	created, err := m.sendReply(ctx, post, sender, reply)
	if err != nil {
		return err
	}
	m.log.Info().
		Str("post_id", post.Id).
		Str("reply_id", created.Id).
		Int("linked", len(reply.Attachments)).
		Int("failed", len(reply.Failures)).
		Msg("Answered Piazza mentions")

	if m.connector.mirror != nil {
		if err := m.connector.mirror.Mirror(ctx, mirrorText(sender, reply)); err != nil {
			m.log.Warn().Err(err).Str("post_id", post.Id).Msg("Failed to mirror reply to Matrix")
		}
	}
	return nil
}

func (m *MattermostClient) sendReply(ctx context.Context, src *model.Post, sender string, reply *linker.Reply) (*model.Post, error) {
	out := &model.Post{
		ChannelId: src.ChannelId,
		Message:   replyMessage(sender, reply),
	}
	if m.connector.Config.Mattermost.ReplyInThread {
		out.RootId = src.RootId
		if out.RootId == "" {
			out.RootId = src.Id
		}
	}
	model.ParseSlackAttachment(out, reply.Attachments)

	created, _, err := m.client.CreatePost(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("failed to send reply: %w", err)
	}
	return created, nil
}
