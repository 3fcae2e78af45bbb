package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/v2v/internal/intake"
	"github.com/kalambet/v2v/internal/result"
)

const (
	audioField     = "audio"
	multipartSlack = 1 << 20
	memoryLimit    = 8 << 20
)

type submitResponse struct {
	JobID     string `json:"job_id"`
	Position  int    `json:"position"`
	StatusURL string `json:"status_url"`
}

// handleSubmitJob accepts a multipart upload with the memo in the "audio"
// field, stores it as a temporary file owned by the pipeline and queues it.
func handleSubmitJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		maxBytes := int64(deps.MaxUploadMB)<<20 + multipartSlack
		if r.ContentLength > maxBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_input", "upload exceeds %d MB", deps.MaxUploadMB)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(memoryLimit); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_input", "upload exceeds %d MB", deps.MaxUploadMB)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, hdr, err := r.FormFile(audioField)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "missing %q file field", audioField)
			return
		}
		defer file.Close()

		if err := deps.Jobs.Admit(caller, hdr.Filename, hdr.Size); err != nil {
			writeError(w, r, err)
			return
		}

		path, err := saveUpload(deps.UploadDir, hdr.Filename, file)
		if err != nil {
			writeError(w, r, result.Wrap(result.KindFilesystem, err, "storing upload"))
			return
		}

		job, pos, err := deps.Jobs.Submit(intake.Job{
			CallerID:    caller,
			DisplayName: r.FormValue("display_name"),
			AudioPath:   path,
			Filename:    filepath.Base(hdr.Filename),
			Notify: func(o intake.Outcome) {
				slog.Debug("job outcome", "job_id", o.JobID, "state", o.State)
			},
		})
		if err != nil {
			os.Remove(path)
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusAccepted, submitResponse{
			JobID:     job.ID,
			Position:  pos,
			StatusURL: "/jobs/" + job.ID,
		})
	}
}

func saveUpload(dir, filename string, src io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// handleJobStatus reports a job to its submitter or an admin. Other callers
// get 404 so job ids cannot be probed.
func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r)
		st, ok := deps.Jobs.Status(chi.URLParam(r, "id"))
		admin := deps.Access.IsAdmin(caller)
		if !ok || (st.CallerID != caller && !admin) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if !admin {
			st = withoutServerPaths(st)
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// withoutServerPaths drops the on-disk location of an idea from a status.
// The tracker's copy is left untouched.
func withoutServerPaths(st intake.Status) intake.Status {
	if st.Outcome == nil || st.Outcome.Idea == nil {
		return st
	}
	out := *st.Outcome
	idea := *out.Idea
	idea.Path = ""
	out.Idea = &idea
	st.Outcome = &out
	return st
}

func handlePipeline(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{
			"workers": deps.Jobs.Workers(),
			"active":  deps.Jobs.Active(),
			"queued":  deps.Jobs.QueueLen(),
		})
	}
}
