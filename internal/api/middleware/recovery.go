package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/imagehunter/internal/api/response"
)

// Recovery turns a handler panic into a 500 carrying the request id, so the
// client can quote it when reporting the failure. http.ErrAbortHandler is
// re-raised for net/http to abort the connection quietly.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			reqID := GetRequestID(r)
			slog.Error("handler panic",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
			)
			var details any
			if reqID != "" {
				details = map[string]string{"request_id": reqID}
			}
			response.Error(w, http.StatusInternalServerError, response.CodeInternal,
				"An unexpected error occurred", details)
		}()
		next.ServeHTTP(w, r)
	})
}
