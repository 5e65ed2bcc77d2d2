package adapthttp

import (
	"net/http"

	"fitstatus/internal/app"
)

func (s *Server) handleBodyProjection(w http.ResponseWriter, r *http.Request) {
	days := intQuery(r, "daysAhead", app.DefaultProjectionDays)
	p := s.projection.Projection(r.Context(), days)
	if p == nil {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
