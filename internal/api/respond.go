package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"questline/internal/model"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps core error kinds to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrValidationConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDataAccess):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":      err.Error(),
			"quest_id":   ce.QuestID,
			"quest_name": ce.QuestName,
		})
		return
	}
	writeError(w, statusOf(err), err.Error())
}

// decodeJSON strictly decodes a JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return err
	}
	if len(b) > maxBody {
		return fmt.Errorf("body exceeds %d bytes", maxBody)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
