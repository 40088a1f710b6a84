// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"
	"strconv"
	"time"
)

// BadRequest responds 400 for requests the server cannot parse.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Bad Request", detail)
}

// Unauthorized responds 401 when the request carries no usable identity.
func Unauthorized(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// Forbidden responds 403 when the identity may not touch the resource.
func Forbidden(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusForbidden, "Forbidden", detail)
}

// NotFound responds 404.
func NotFound(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict responds 409 for writes colliding with existing state.
func Conflict(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusConflict, "Conflict", detail)
}

// Unprocessable responds 422 for well-formed input with invalid values.
func Unprocessable(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusUnprocessableEntity, "Invalid Input", detail)
}

// Unavailable responds 503 with a Retry-After hint for transient failures.
func Unavailable(w http.ResponseWriter, retryAfter time.Duration, detail string) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter/time.Second)))
	}
	Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", detail)
}

// Internal responds 500 without leaking the cause.
func Internal(w http.ResponseWriter) {
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
