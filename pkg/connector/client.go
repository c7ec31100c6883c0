// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

var errClientStopped = errors.New("mattermost client is stopped")

// MattermostClient is the bot's authenticated Mattermost connection.
type MattermostClient struct {
	connector *LinkerConnector

	client *model.Client4

	// wsMu guards wsClient and stopped. Disconnect flips stopped under it,
	// so no connection is installed and no reply is started afterwards.
	wsMu     sync.Mutex
	wsClient *model.WebSocketClient
	stopped  bool

	userID    string
	username  string
	serverURL string

	handlers sync.WaitGroup
	stopChan chan struct{}
	log      zerolog.Logger
}

// NewMattermostClient creates a bot client for serverURL.
func NewMattermostClient(lc *LinkerConnector, serverURL, token string) *MattermostClient {
	serverURL = strings.TrimRight(serverURL, "/")
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	return &MattermostClient{
		connector: lc,
		client:    client,
		serverURL: serverURL,
		stopChan:  make(chan struct{}),
		log:       lc.Log.With().Str("component", "mm_client").Logger(),
	}
}

// Connect verifies the token and starts listening for posts.
func (m *MattermostClient) Connect(ctx context.Context) error {
	m.log.Info().Str("server_url", m.serverURL).Msg("Connecting to Mattermost")

	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost token: %w", err)
	}
	m.userID = me.Id
	m.username = me.Username
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if err := m.connectWebSocket(); err != nil {
		return err
	}
	return nil
}

func (m *MattermostClient) connectWebSocket() error {
	wsURL := httpToWS(m.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	m.wsMu.Lock()
	if m.stopped {
		m.wsMu.Unlock()
		ws.Close()
		return errClientStopped
	}
	m.wsClient = ws
	ws.Listen()
	go m.listenWebSocket(ws)
	m.wsMu.Unlock()

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *MattermostClient) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-ws.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				m.reconnect()
				return
			}
			if event == nil {
				continue
			}
			m.handleEvent(event)
		}
	}
}

// reconnect retries the WebSocket connection with exponential backoff until
// it succeeds or the client is stopped.
func (m *MattermostClient) reconnect() {
	delay := reconnectMinDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-m.stopChan:
			return
		case <-time.After(delay):
		}
		err := m.connectWebSocket()
		if err == nil || errors.Is(err, errClientStopped) {
			return
		}
		m.log.Error().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// Disconnect closes the WebSocket connection and waits for in-flight
// replies to finish.
func (m *MattermostClient) Disconnect() {
	m.wsMu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopChan)
	}
	if m.wsClient != nil {
		m.wsClient.Close()
		m.wsClient = nil
	}
	m.wsMu.Unlock()
	m.handlers.Wait()
}

// IsThisUser reports whether userID is the bot's own Mattermost user.
func (m *MattermostClient) IsThisUser(userID string) bool {
	return userID != "" && userID == m.userID
}
