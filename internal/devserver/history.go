package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ehrlich-b/wingchat/internal/chat"
)

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("list history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}

	history := make([]chat.Entry, 0, len(msgs))
	for _, m := range msgs {
		ts, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", m.ID).Msg("skipping history row")
			continue
		}
		history = append(history, chat.Entry{
			Role:      chat.Role(m.Role),
			Content:   m.Content,
			Sources:   m.Sources,
			Timestamp: ts,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.store.DeleteMessages(id)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("clear history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clear failed"})
		return
	}
	s.logger.Info().Str("session_id", id).Int64("deleted", n).Msg("history cleared")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
