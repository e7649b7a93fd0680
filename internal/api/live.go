package api

import "net/http"

// handleObservers lists the live observer registrations.
func (h *Handlers) handleObservers(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.hub.SnapshotView())
}
