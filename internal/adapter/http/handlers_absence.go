package adapthttp

import (
	"errors"
	"io"
	"net/http"

	"fitstatus/internal/app"
	"fitstatus/internal/domain"
)

func (s *Server) handleAbsenceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.absence.Status(r.Context()))
}

func (s *Server) handleAbsenceStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartDate string `json:"startDate"`
	}
	// An empty body, sized or chunked, starts today.
	if err := parseJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := s.absence.Start(r.Context(), body.StartDate)
	if err != nil {
		s.writeAbsenceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.StatusFromLog(l))
}

func (s *Server) handleAbsenceEnd(w http.ResponseWriter, r *http.Request) {
	id, err := s.absence.End(r.Context())
	if err != nil {
		s.writeAbsenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "absenceId": id})
}

func (s *Server) handleAbsenceRecord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DaysAbsent  int     `json:"daysAbsent"`
		EstimatedXP float64 `json:"estimatedXp"`
	}
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.absence.Record(r.Context(), body.DaysAbsent, body.EstimatedXP); err != nil {
		s.writeAbsenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.absence.Status(r.Context()))
}

func (s *Server) writeAbsenceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotSignedIn):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, app.ErrNoActiveAbsence), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, app.ErrAbsenceAlreadyActive):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	default:
		s.log.WithError(err).Error("absence write failed")
		writeError(w, http.StatusInternalServerError, errInternal)
	}
}
