// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// maxCommandBodySize is the maximum allowed slash command request body (1 MB).
const maxCommandBodySize = 1 << 20

// Router returns the HTTP handler serving the slash command endpoint.
func (lc *LinkerConnector) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(
		hlog.NewHandler(lc.Log.With().Str("component", "http").Logger()),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Handled request")
		}),
	)
	r.HandleFunc("/", handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/commands/{class_id}", lc.HandleSlashCommand).Methods(http.MethodPost)
	return r
}

// handleIndex is the liveness endpoint.
func handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("17"))
}

// HandleSlashCommand is the HTTP handler for POST /commands/{class_id}. It
// links every post mentioned in the command text and answers in channel,
// either inline or through the command's response_url.
func (lc *LinkerConnector) HandleSlashCommand(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	expected := lc.Config.SlashCommand.Token
	token := r.PostForm.Get("token")
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected slash command with bad token")
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	classID := mux.Vars(r)["class_id"]
	text := r.PostForm.Get("text")
	log.Debug().Str("class_id", classID).Str("user_name", r.PostForm.Get("user_name")).Msg("Slash command")

	expansion, err := lc.linker.ForClass(classID).Expand(r.Context(), text)
	if err != nil {
		log.Warn().Err(err).Str("class_id", classID).Msg("Failed to expand slash command")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := &model.CommandResponse{
		ResponseType: model.CommandResponseTypeInChannel,
		Username:     r.PostForm.Get("user_name"),
		Text:         expansion.Text,
		Attachments:  expansion.Attachments,
	}

	if responseURL := r.PostForm.Get("response_url"); responseURL != "" {
		if err := lc.postResponse(r, responseURL, resp, log); err != nil {
			log.Warn().Err(err).Msg("Failed to deliver slash command response")
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn().Err(err).Msg("Failed to write slash command response")
	}
}

// postResponse delivers resp to the command's response_url.
func (lc *LinkerConnector) postResponse(r *http.Request, responseURL string, resp *model.CommandResponse, log *zerolog.Logger) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, responseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid response_url: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := lc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("response_url returned HTTP %d", res.StatusCode)
	}
	log.Debug().Int("status", res.StatusCode).Msg("Delivered slash command response")
	return nil
}
