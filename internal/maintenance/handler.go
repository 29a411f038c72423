package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"finlink/internal/oauthstate"
	"finlink/internal/observability"
)

// CleanupHandler sweeps expired, unconsumed OAuth handshake states. The
// store never sweeps on its own; a scheduler hits this endpoint instead.
type CleanupHandler struct {
	states     *oauthstate.Store
	logger     *observability.Logger
	cronSecret string
}

func NewCleanupHandler(states *oauthstate.Store, logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		states:     states,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	removed := h.states.SweepExpired(time.Now().UTC())

	h.logger.Info("state_sweep_completed", map[string]any{
		"removed_states": removed,
		"pending_states": h.states.Pending(),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]int{"removed_states": removed},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
