// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mattermost-piazza-linker/pkg/connector/matrixfmt"
)

// MatrixMirror posts copies of bot replies to a Matrix room as notices.
type MatrixMirror struct {
	client *mautrix.Client
	roomID id.RoomID
	log    zerolog.Logger
}

// NewMatrixMirror creates a mirror from the matrix config block.
func NewMatrixMirror(cfg MatrixConfig, log zerolog.Logger) (*MatrixMirror, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, err
	}
	return &MatrixMirror{
		client: client,
		roomID: id.RoomID(cfg.RoomID),
		log:    log.With().Str("component", "matrix_mirror").Logger(),
	}, nil
}

// Mirror sends markdown text to the room.
func (mm *MatrixMirror) Mirror(ctx context.Context, text string) error {
	content := matrixfmt.Render(text)
	resp, err := mm.client.SendMessageEvent(ctx, mm.roomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", mm.roomID, err)
	}
	mm.log.Debug().
		Str("room_id", mm.roomID.String()).
		Str("event_id", resp.EventID.String()).
		Msg("Mirrored reply to Matrix")
	return nil
}
