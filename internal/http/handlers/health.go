package handlers

import (
	"net/http"
	"time"
)

// staleMarkerAge is how long a deduction may wait for its job row before
// health reports it.
const staleMarkerAge = 5 * time.Minute

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if a.Markers != nil {
		stale := 0
		for _, m := range a.Markers.Pending() {
			if time.Since(m.RecordedAt) > staleMarkerAge {
				stale++
			}
		}
		resp["stale_deductions"] = stale
	}
	a.json(w, http.StatusOK, resp)
}
