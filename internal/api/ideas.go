package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/v2v/internal/result"
)

const maxJSONBody = 1 << 20

func requireRead(deps Deps, caller string) error {
	if !deps.Access.Authorize(caller).CanRead {
		return result.Errorf(result.KindUnauthorized, "caller %q is not authorized", caller)
	}
	return nil
}

func handleListIdeas(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireRead(deps, callerFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		list, err := deps.Ideas.List(limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetIdea(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireRead(deps, callerFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		info, err := deps.Ideas.GetInfo(chi.URLParam(r, "folder"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

type renameRequest struct {
	Title string `json:"title"`
}

func handleRenameIdea(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		defer r.Body.Close()

		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "title is required")
			return
		}

		renamed, err := deps.Ideas.Rename(r.Context(), chi.URLParam(r, "folder"), req.Title, callerFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, renamed)
	}
}

func handleDeleteIdea(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := deps.Ideas.Delete(r.Context(), chi.URLParam(r, "folder"), callerFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, deleted)
	}
}
