package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/v2v/internal/result"
)

type exportRequest struct {
	Folder string   `json:"folder"`
	Files  []string `json:"files"`
}

func handleCreateExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		defer r.Body.Close()

		var req exportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}
		if req.Folder == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "folder is required")
			return
		}

		pkg, err := deps.Exports.Export(r.Context(), req.Folder, callerFrom(r), req.Files)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, pkg)
	}
}

func handleListExports(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Exports.UserLinks(callerFrom(r)))
	}
}

func handleRevokeExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Exports.Revoke(chi.URLParam(r, "token"), callerFrom(r)); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

// handleDownload serves an archive to anyone holding its token.
func handleDownload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		link, err := deps.Exports.Resolve(token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		f, err := os.Open(link.ArchivePath)
		if err != nil {
			writeError(w, r, result.Errorf(result.KindNotFound, "archive is no longer available"))
			return
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			writeError(w, r, result.Wrap(result.KindFilesystem, err, "reading archive"))
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", link.ArchiveName))
		w.Header().Set("X-Checksum-SHA256", link.Checksum)
		http.ServeContent(w, r, link.ArchiveName, st.ModTime(), f)

		if r.Method == http.MethodGet {
			deps.Exports.RecordDownload(token)
		}
	}
}
