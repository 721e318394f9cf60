package apihandlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried in the envelope. Clients branch on the code, not on
// the message text.
const (
	CodeBadRequest  = "bad_request"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeInternal    = "internal_error"
	CodeUnavailable = "unavailable"
)

// APIError is the body of every failed request, for example retrying a job
// that finished cleanly:
//
//	{"error": {"code": "conflict", "message": "job 4f1c... is not in a retryable state"}}
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// JSONError aborts the request with the error envelope.
func JSONError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

// BadRequest rejects malformed input: bad paging, a missing or unknown job
// type, or params that cannot be stored.
func BadRequest(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusBadRequest, CodeBadRequest, msg)
}

// NotFound reports a job GUID with no status record.
func NotFound(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusNotFound, CodeNotFound, msg)
}

func Internal(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusInternalServerError, CodeInternal, msg)
}

// Conflict means the job exists but its state forbids the request, such as
// cancelling a finished job or submitting to a location no queue serves.
func Conflict(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusConflict, CodeConflict, msg)
}

// Unavailable reports a backing store that cannot be reached.
func Unavailable(ctx *gin.Context, msg string) {
	JSONError(ctx, http.StatusServiceUnavailable, CodeUnavailable, msg)
}
