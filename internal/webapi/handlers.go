package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bedolagabot/internal/broadcast"
	"bedolagabot/internal/storage"
)

const maxMessageLen = 4000

type mediaRequest struct {
	Type    string `json:"type"`
	FileID  string `json:"file_id"`
	Caption string `json:"caption,omitempty"`
}

type createMessageRequest struct {
	Target          string        `json:"target"`
	MessageText     string        `json:"message_text"`
	SelectedButtons []string      `json:"selected_buttons"`
	Media           *mediaRequest `json:"media,omitempty"`
}

type createEmailRequest struct {
	Target  string `json:"target"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type previewRequest struct {
	Target string `json:"target"`
}

type broadcastResponse struct {
	ID              int64      `json:"id"`
	Channel         string     `json:"channel"`
	Target          string     `json:"target"`
	MessageText     string     `json:"message_text,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	HasMedia        bool       `json:"has_media"`
	MediaType       string     `json:"media_type,omitempty"`
	TotalCount      int        `json:"total_count"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
	Status          string     `json:"status"`
	ProgressPercent float64    `json:"progress_percent"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type listResponse struct {
	Items  []broadcastResponse `json:"items"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

type previewResponse struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createMessageBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	text := strings.TrimSpace(req.MessageText)
	if text == "" || len(req.MessageText) > maxMessageLen {
		writeError(w, http.StatusBadRequest, "message_text must be 1..4000 characters")
		return
	}
	if req.Media != nil {
		switch req.Media.Type {
		case "photo", "video", "document":
		default:
			writeError(w, http.StatusBadRequest, "media.type must be photo, video or document")
			return
		}
		if req.Media.FileID == "" {
			writeError(w, http.StatusBadRequest, "media.file_id is required")
			return
		}
	}
	if !s.validTarget(r, broadcast.ChannelMessage, req.Target, w) {
		return
	}

	buttons := req.SelectedButtons
	if buttons == nil {
		buttons = []string{"home"}
	}

	row := &storage.Broadcast{
		Channel:     broadcast.ChannelMessage,
		Target:      req.Target,
		MessageText: req.MessageText,
		Buttons:     buttons,
	}
	if req.Media != nil {
		row.MediaType = req.Media.Type
		row.MediaFileID = req.Media.FileID
		row.MediaCaption = req.Media.Caption
	}
	if err := s.store.CreateBroadcast(r.Context(), row); err != nil {
		s.log.Error().Err(err).Msg("create broadcast failed")
		writeError(w, http.StatusInternalServerError, "cannot create broadcast")
		return
	}

	cfg := broadcast.JobConfig{
		Channel: broadcast.ChannelMessage,
		Target:  row.Target,
		Text:    row.MessageText,
		Buttons: row.Buttons,
	}
	if req.Media != nil {
		cfg.Media = &broadcast.MediaRef{Kind: row.MediaType, FileID: row.MediaFileID, Caption: row.MediaCaption}
	}
	s.svc.StartBroadcast(row.ID, cfg)

	writeJSON(w, http.StatusCreated, s.serialize(row))
}

func (s *Server) createEmailBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "subject and body are required")
		return
	}
	if !s.validTarget(r, broadcast.ChannelEmail, req.Target, w) {
		return
	}

	row := &storage.Broadcast{
		Channel: broadcast.ChannelEmail,
		Target:  req.Target,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if err := s.store.CreateBroadcast(r.Context(), row); err != nil {
		s.log.Error().Err(err).Msg("create email broadcast failed")
		writeError(w, http.StatusInternalServerError, "cannot create broadcast")
		return
	}

	s.svc.StartBroadcast(row.ID, broadcast.JobConfig{
		Channel: broadcast.ChannelEmail,
		Target:  row.Target,
		Subject: row.Subject,
		Body:    row.Body,
	})

	writeJSON(w, http.StatusCreated, s.serialize(row))
}

func (s *Server) previewAudience(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	count, err := s.store.CountAudience(r.Context(), channelForTarget(req.Target), req.Target)
	if err != nil {
		if errors.Is(err, broadcast.ErrUnknownTarget) {
			writeError(w, http.StatusBadRequest, "unknown target filter")
			return
		}
		s.log.Error().Err(err).Msg("audience preview failed")
		writeError(w, http.StatusInternalServerError, "cannot compute audience")
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Target: req.Target, Count: count})
}

func (s *Server) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	items, total, err := s.store.ListBroadcasts(r.Context(), limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("list broadcasts failed")
		writeError(w, http.StatusInternalServerError, "cannot list broadcasts")
		return
	}
	resp := listResponse{Items: make([]broadcastResponse, 0, len(items)), Total: total, Limit: limit, Offset: offset}
	for i := range items {
		resp.Items = append(resp.Items, s.serialize(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row, err := s.store.GetBroadcast(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "broadcast not found")
			return
		}
		s.log.Error().Err(err).Int64("broadcast_id", id).Msg("get broadcast failed")
		writeError(w, http.StatusInternalServerError, "cannot load broadcast")
		return
	}
	writeJSON(w, http.StatusOK, s.serialize(row))
}

func (s *Server) stopBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	row, err := s.store.GetBroadcast(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "broadcast not found")
			return
		}
		s.log.Error().Err(err).Int64("broadcast_id", id).Msg("stop broadcast failed")
		writeError(w, http.StatusInternalServerError, "cannot load broadcast")
		return
	}
	if !s.svc.RequestStop(id) {
		writeError(w, http.StatusConflict, "broadcast is not running")
		return
	}
	writeJSON(w, http.StatusOK, s.serialize(row))
}

// serialize renders a history row for the polling client. "cancelling" is a
// derived label: the run is still in_progress but a stop was requested.
func (s *Server) serialize(b *storage.Broadcast) broadcastResponse {
	status := string(b.Status)
	if b.Status == broadcast.StatusInProgress && s.svc.StopRequested(b.ID) {
		status = "cancelling"
	}
	var pct float64
	if b.TotalCount > 0 {
		pct = float64(b.SentCount+b.FailedCount) / float64(b.TotalCount) * 100
	}
	return broadcastResponse{
		ID:              b.ID,
		Channel:         string(b.Channel),
		Target:          b.Target,
		MessageText:     b.MessageText,
		Subject:         b.Subject,
		HasMedia:        b.MediaType != "",
		MediaType:       b.MediaType,
		TotalCount:      b.TotalCount,
		SentCount:       b.SentCount,
		FailedCount:     b.FailedCount,
		Status:          status,
		ProgressPercent: pct,
		CreatedAt:       b.CreatedAt,
		CompletedAt:     b.CompletedAt,
	}
}

func (s *Server) validTarget(r *http.Request, ch broadcast.Channel, target string, w http.ResponseWriter) bool {
	if _, err := s.store.CountAudience(r.Context(), ch, target); err != nil {
		if errors.Is(err, broadcast.ErrUnknownTarget) {
			writeError(w, http.StatusBadRequest, "unknown target filter")
		} else {
			s.log.Error().Err(err).Msg("target validation failed")
			writeError(w, http.StatusInternalServerError, "cannot validate target")
		}
		return false
	}
	return true
}

func channelForTarget(target string) broadcast.Channel {
	if strings.HasSuffix(target, "_email") {
		return broadcast.ChannelEmail
	}
	return broadcast.ChannelMessage
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid broadcast id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
