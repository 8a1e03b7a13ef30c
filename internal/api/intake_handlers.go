package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// snapshot decorates a session for the patient screens; nil stays nil.
func (s *Server) snapshot(session *models.IntakeSession) interface{} {
	if session == nil {
		return nil
	}
	return s.ctrl.Snapshot(*session)
}

// startSessionHandler handles POST /intake/sessions
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, "startSessionHandler", err, nil)
		return
	}
	session, err := s.sessions.Start(r.Context(), req.Channel, "")
	if err != nil {
		writeError(w, "startSessionHandler", err, nil)
		return
	}
	slog.Info("Server.startSessionHandler: intake started", "sessionID", session.ID, "channel", session.Channel)
	writeJSONResponse(w, http.StatusCreated, models.Success(s.snapshot(session)))
}

// getSessionHandler handles GET /intake/sessions/{id}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "getSessionHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.snapshot(session)))
}

// submitNameHandler handles POST /intake/sessions/{id}/name
func (s *Server) submitNameHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TextRequest
	if !s.decodeText(w, r, "submitNameHandler", &req) {
		return
	}
	session, err := s.sessions.SubmitName(r.Context(), r.PathValue("id"), req.Text)
	s.writeSession(w, "submitNameHandler", session, err)
}

// submitDateOfBirthHandler handles POST /intake/sessions/{id}/dob
func (s *Server) submitDateOfBirthHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DateOfBirthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.submitDateOfBirthHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	session, err := s.sessions.SubmitDateOfBirth(r.Context(), r.PathValue("id"), req.DateOfBirth)
	s.writeSession(w, "submitDateOfBirthHandler", session, err)
}

// submitAnswerHandler handles POST /intake/sessions/{id}/answers
func (s *Server) submitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TextRequest
	if !s.decodeText(w, r, "submitAnswerHandler", &req) {
		return
	}
	session, err := s.sessions.SubmitAnswer(r.Context(), r.PathValue("id"), req.Text)
	s.writeSession(w, "submitAnswerHandler", session, err)
}

// startOverHandler handles POST /intake/sessions/{id}/start-over
func (s *Server) startOverHandler(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.StartOver(r.Context(), r.PathValue("id"))
	s.writeSession(w, "startOverHandler", session, err)
}

// endIntakeHandler handles DELETE /intake/sessions/{id}
func (s *Server) endIntakeHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.EndIntake(r.Context(), id); err != nil {
		writeError(w, "endIntakeHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intake ended", nil))
}

func (s *Server) decodeText(w http.ResponseWriter, r *http.Request, op string, req *models.TextRequest) bool {
	if err := decodeJSON(w, r, req); err != nil {
		slog.Warn("Server."+op+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	if err := req.Validate(); err != nil {
		writeError(w, op, err, nil)
		return false
	}
	return true
}

func (s *Server) writeSession(w http.ResponseWriter, op string, session *models.IntakeSession, err error) {
	if err != nil {
		writeError(w, op, err, s.snapshot(session))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.snapshot(session)))
}
