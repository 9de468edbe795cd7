package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

type apiError struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	body := map[string]any{
		"status": "success",
		"data":   data,
	}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, statusCode, body)
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeDomainError 依錯誤分類決定 HTTP 狀態碼，訊息用給使用者看的句子
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapDomainError(err)
	writeError(w, r, status, code, domain.UserMessage(err))
}

func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity, "PRECONDITION_FAILED"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "CONCURRENCY_CONFLICT"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeOutcome 冪等重放與第一次處理回同樣的資料，只差在 message 與狀態碼
func writeOutcome(w http.ResponseWriter, outcome domain.Outcome) {
	if outcome.Replayed {
		writeSuccess(w, http.StatusOK, domain.ReplayMessage, outcome)
		return
	}
	writeSuccess(w, http.StatusCreated, "", outcome)
}
