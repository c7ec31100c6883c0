// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector runs the Piazza linker against Mattermost.
//
// Two front ends share one [linker.Linker]: a bot that watches Mattermost
// over the WebSocket API and answers messages mentioning Piazza posts, and
// an HTTP endpoint for a Mattermost slash command that rewrites the command
// text with links.
//
// # Core Types
//
// [LinkerConnector] owns the configuration, the Piazza session, the HTTP
// server and the optional Matrix mirror.
//
// [MattermostClient] is the bot's authenticated Mattermost session. It
// listens for posted events, reconnects with backoff when the WebSocket
// drops, and replies with Slack-compatible attachments.
//
// [MatrixMirror] copies bot replies into a Matrix room as notices.
//
// # Echo Prevention
//
// The bot must never answer itself. Posts from its own user ID, posts with
// a non-default type (which includes its own attachment replies) and posts
// from usernames matching mattermost.bot_prefix are ignored.
//
// # Sub-packages
//
//   - mattermostfmt converts Piazza post HTML to Mattermost markdown.
//   - matrixfmt converts Mattermost markdown to Matrix HTML.
package connector
