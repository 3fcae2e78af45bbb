package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/kalambet/v2v/internal/result"
)

var kindStatus = map[result.Kind]int{
	result.KindUnauthorized: http.StatusForbidden,
	result.KindForbidden:    http.StatusForbidden,
	result.KindInvalidInput: http.StatusBadRequest,
	result.KindNotFound:     http.StatusNotFound,
	result.KindConflict:     http.StatusConflict,
	result.KindUnsafePath:   http.StatusBadRequest,
	result.KindFilesystem:   http.StatusInternalServerError,
	result.KindPersistence:  http.StatusInternalServerError,
	result.KindExpired:      http.StatusGone,
	result.KindUnavailable:  http.StatusServiceUnavailable,
	result.KindInternal:     http.StatusInternalServerError,
}

// writeError maps err to a status code. Server-side failures are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := result.KindOf(err)
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	if code >= 500 && kind != result.KindUnavailable {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
		httpError(w, code, kind.String(), "internal error")
		return
	}
	httpError(w, code, kind.String(), "%s", result.Message(err))
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

// listParam splits a comma-separated query parameter.
func listParam(r *http.Request, key string) []string {
	var out []string
	for _, v := range strings.Split(r.URL.Query().Get(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
