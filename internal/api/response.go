package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/IntakeFlow/internal/models"
)

// Pre-marshaled fallback response for JSON encoding failures
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// patientFields are validation fields whose errors are shown to the patient inline.
var patientFields = map[string]bool{"name": true, "date_of_birth": true, "answer": true}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError maps an operation error to a status code. result, when not nil,
// is sent alongside so the client can re-render the unchanged session.
func writeError(w http.ResponseWriter, op string, err error, result interface{}) {
	var (
		ve *models.ValidationError
		se *models.StateError
	)
	switch {
	case errors.As(err, &ve):
		msg := ve.Error()
		if patientFields[ve.Field] {
			msg = ve.PatientMessage()
		}
		slog.Debug("Server."+op+": validation failed", "field", ve.Field, "reason", ve.Reason)
		writeJSONResponse(w, http.StatusBadRequest, models.ErrorWithResult(msg, result))
	case errors.As(err, &se):
		slog.Debug("Server."+op+": state conflict", "error", err)
		writeJSONResponse(w, http.StatusConflict, models.ErrorWithResult(err.Error(), result))
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
	case errors.Is(err, models.ErrReviewNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Review not found"))
	case errors.Is(err, models.ErrInvalidChannel),
		errors.Is(err, models.ErrEmptyReviewUpdate),
		errors.Is(err, models.ErrInvalidReviewStatus),
		errors.Is(err, models.ErrFreeTextTooLong),
		errors.Is(err, models.ErrNotesTooLong):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server."+op+" failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
