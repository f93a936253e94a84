package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hitoshi/ticketdesk/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスのJSON表現。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func errorBodyOf(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse はAPIErrorを指定ステータスで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBodyOf(apiErr))
}

// WriteInternalServerError は詳細を含まない500レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// writeRateLimitResponse は429を書き込む。
// Retry-Afterはトークンが1つ補充されるまでの秒数（切り上げ、最低1秒）。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limit)))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}

func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 || limit == rate.Inf {
		return 1
	}
	return max(int(math.Ceil(1.0/float64(limit))), 1)
}
