package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// listIntakesHandler handles GET /staff/intakes?status=
func (s *Server) listIntakesHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.reviews.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, "listIntakesHandler", err, nil)
		return
	}
	if rows == nil {
		rows = []models.DashboardRow{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rows))
}

// statsHandler handles GET /staff/stats
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reviews.Stats(r.Context())
	if err != nil {
		writeError(w, "statsHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// receiptsHandler handles GET /staff/receipts
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts()
	if err != nil {
		writeError(w, "receiptsHandler", err, nil)
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// getReviewHandler handles GET /staff/intakes/{id}
func (s *Server) getReviewHandler(w http.ResponseWriter, r *http.Request) {
	review, err := s.reviews.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "getReviewHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(review))
}

// updateReviewHandler handles PATCH /staff/intakes/{id}
func (s *Server) updateReviewHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.updateReviewHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	review, err := s.reviews.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, "updateReviewHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Review updated", review))
}

// approveReviewHandler handles POST /staff/intakes/{id}/approve
func (s *Server) approveReviewHandler(w http.ResponseWriter, r *http.Request) {
	review, err := s.reviews.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "approveReviewHandler", err, nil)
		return
	}
	slog.Info("Server.approveReviewHandler: intake approved", "sessionID", review.SessionID, "reference", review.Reference)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intake approved", review))
}

// missingInfoHandler handles POST /staff/intakes/{id}/missing-info
func (s *Server) missingInfoHandler(w http.ResponseWriter, r *http.Request) {
	review, err := s.reviews.MarkMissingInfo(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "missingInfoHandler", err, nil)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Intake marked as missing information", review))
}
