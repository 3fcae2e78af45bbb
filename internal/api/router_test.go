package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/v2v/internal/analysis"
	"github.com/kalambet/v2v/internal/export"
	"github.com/kalambet/v2v/internal/ideas"
	"github.com/kalambet/v2v/internal/intake"
	"github.com/kalambet/v2v/internal/result"
	"github.com/kalambet/v2v/internal/search"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
)

const testToken = "secret-token"

// --- mocks ---

type fakeJobs struct {
	mu        sync.Mutex
	admitErr  error
	submitted []intake.Job
	statuses  map[string]intake.Status
}

func (f *fakeJobs) Admit(callerID, filename string, size int64) error {
	return f.admitErr
}

func (f *fakeJobs) Submit(job intake.Job) (intake.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = "job-" + string(rune('a'+len(f.submitted)))
	f.submitted = append(f.submitted, job)
	return job, len(f.submitted), nil
}

func (f *fakeJobs) Status(jobID string) (intake.Status, bool) {
	st, ok := f.statuses[jobID]
	return st, ok
}

func (f *fakeJobs) Active() int   { return 1 }
func (f *fakeJobs) QueueLen() int { return 2 }
func (f *fakeJobs) Workers() int  { return 2 }

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return io.ErrUnexpectedEOF }

// --- helpers ---

type testEnv struct {
	handler http.Handler
	deps    Deps
	jobs    *fakeJobs
	repo    *ideas.Repository
	store   *storage.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	access := security.NewAccess([]string{"alice", "bob"}, []string{"root"})
	repo, err := ideas.New(store, access, ideas.Config{BaseDir: filepath.Join(dir, "ideas")})
	if err != nil {
		t.Fatalf("ideas.New: %v", err)
	}
	exp, err := export.New(export.Options{
		IdeasDir:     repo.BaseDir(),
		DownloadsDir: filepath.Join(dir, "downloads"),
		Access:       access,
	})
	if err != nil {
		t.Fatalf("export.New: %v", err)
	}

	_, err = repo.Create(context.Background(), ideas.CreateRequest{
		Analysis: analysis.Analysis{
			Title:     "Mobile Delivery App",
			Summary:   "Deliver groceries from local shops.",
			Category:  analysis.CategoryApp,
			Tags:      []string{"delivery"},
			Maturity:  analysis.MaturityConcept,
			Viability: 8,
		},
		Transcript: "I want to build a delivery app",
		CreatorID:  "alice",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	jobs := &fakeJobs{statuses: map[string]intake.Status{
		"j1": {JobID: "j1", CallerID: "alice", State: intake.StateDone},
	}}
	deps := Deps{
		Token:       testToken,
		Access:      access,
		Jobs:        jobs,
		Ideas:       repo,
		Search:      search.New(store, access),
		Exports:     exp,
		DB:          store.DB(),
		UploadDir:   filepath.Join(dir, "uploads"),
		MaxUploadMB: 1,
		Registry:    prometheus.NewRegistry(),
	}
	return &testEnv{handler: NewHandler(deps), deps: deps, jobs: jobs, repo: repo, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, path, caller string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, caller, body, "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[map[string]map[string]string](t, rec)
	return body["error"]["type"]
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["queue"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	deps := env.deps
	deps.DB = failingPinger{}
	rec := httptest.NewRecorder()
	NewHandler(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/ideas", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/ideas", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no caller: status = %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/ideas", "mallory", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("unknown caller: status = %d, want 403", rec.Code)
	}
	if got := errorType(t, rec); got != "unauthorized" {
		t.Errorf("error type = %q, want unauthorized", got)
	}
}

func TestListAndGetIdea(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ideas?limit=5", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}
	list := decode[[]storage.Idea](t, rec)
	if len(list) != 1 || list[0].FolderName != "Mobile_Delivery_App" {
		t.Fatalf("list = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/ideas/Mobile_Delivery_App", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body)
	}
	info := decode[ideas.Info](t, rec)
	if info.Metadata == nil || info.Record == nil || len(info.Files) != 4 {
		t.Errorf("info = %+v", info)
	}

	rec = env.do(t, http.MethodGet, "/ideas/Nope", "bob", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing idea: status = %d, want 404", rec.Code)
	}
}

func TestRenameIdea(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPatch, "/ideas/Mobile_Delivery_App", "alice", map[string]string{"title": "Courier Network"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin rename: status = %d, want 403", rec.Code)
	}

	rec = env.doJSON(t, http.MethodPatch, "/ideas/Mobile_Delivery_App", "root", map[string]string{"title": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty title: status = %d, want 400", rec.Code)
	}

	rec = env.doJSON(t, http.MethodPatch, "/ideas/Mobile_Delivery_App", "root", map[string]string{"title": "Courier Network"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d: %s", rec.Code, rec.Body)
	}
	renamed := decode[ideas.Renamed](t, rec)
	if renamed.NewFolder != "Courier_Network" {
		t.Errorf("NewFolder = %q", renamed.NewFolder)
	}
}

func TestDeleteIdea(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/ideas/Mobile_Delivery_App", "bob", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete: status = %d, want 403", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/ideas/Mobile_Delivery_App", "root", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}
	if _, err := os.Stat(filepath.Join(env.repo.BaseDir(), "Mobile_Delivery_App")); !os.IsNotExist(err) {
		t.Errorf("folder still present: %v", err)
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/search?q=delivery&category=App", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[search.Results](t, rec)
	if len(res.Hits) != 1 || res.Hits[0].Idea.FolderName != "Mobile_Delivery_App" {
		t.Errorf("hits = %+v", res.Hits)
	}

	rec = env.do(t, http.MethodGet, "/search", "bob", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}
}

func TestSuggestAndAdvanced(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/search/suggest?prefix=mob", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("suggest status = %d: %s", rec.Code, rec.Body)
	}
	sugg := decode[map[string][]string](t, rec)
	if len(sugg["suggestions"]) != 1 || sugg["suggestions"][0] != "Mobile_Delivery_App" {
		t.Errorf("suggestions = %v", sugg)
	}

	rec = env.doJSON(t, http.MethodPost, "/search/advanced", "bob", map[string]any{"viability_min": 9})
	if rec.Code != http.StatusOK {
		t.Fatalf("advanced status = %d: %s", rec.Code, rec.Body)
	}
	if res := decode[search.Results](t, rec); len(res.Hits) != 0 {
		t.Errorf("viability_min 9 hits = %+v", res.Hits)
	}

	rec = env.doJSON(t, http.MethodPost, "/search/advanced", "bob", map[string]any{"sort_by": "size"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad sort key: status = %d, want 400", rec.Code)
	}
}

func TestRecentAndStats(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/search/recent?days=3650", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("recent status = %d: %s", rec.Code, rec.Body)
	}
	if list := decode[[]storage.Idea](t, rec); len(list) != 1 {
		t.Errorf("recent = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/stats", "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body)
	}
	body := decode[map[string]map[string]any](t, rec)
	if body["ideas"]["total_ideas"] != float64(1) {
		t.Errorf("ideas = %v", body["ideas"])
	}
	if body["pipeline"]["workers"] != float64(2) {
		t.Errorf("pipeline = %v", body["pipeline"])
	}
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("display_name", "Alice"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, "audio", "memo.m4a", []byte("fake audio"))
	rec := env.do(t, http.MethodPost, "/jobs", "alice", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[submitResponse](t, rec)
	if resp.JobID != "job-a" || resp.Position != 1 || resp.StatusURL != "/jobs/job-a" {
		t.Errorf("response = %+v", resp)
	}

	if len(env.jobs.submitted) != 1 {
		t.Fatalf("submitted %d jobs", len(env.jobs.submitted))
	}
	job := env.jobs.submitted[0]
	if job.CallerID != "alice" || job.DisplayName != "Alice" || job.Filename != "memo.m4a" {
		t.Errorf("job = %+v", job)
	}
	if filepath.Dir(job.AudioPath) != env.deps.UploadDir || filepath.Ext(job.AudioPath) != ".m4a" {
		t.Errorf("AudioPath = %q", job.AudioPath)
	}
	data, err := os.ReadFile(job.AudioPath)
	if err != nil || string(data) != "fake audio" {
		t.Errorf("upload content = %q, %v", data, err)
	}
}

func TestSubmitJob_Rejections(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, "file", "memo.m4a", []byte("x"))
	rec := env.do(t, http.MethodPost, "/jobs", "alice", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong field: status = %d, want 400", rec.Code)
	}

	env.jobs.admitErr = result.Errorf(result.KindInvalidInput, "unsupported format")
	body, ct = multipartUpload(t, "audio", "memo.exe", []byte("x"))
	rec = env.do(t, http.MethodPost, "/jobs", "alice", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("not admitted: status = %d, want 400", rec.Code)
	}
	entries, _ := os.ReadDir(env.deps.UploadDir)
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d files", len(entries))
	}

	env.jobs.admitErr = nil
	body, ct = multipartUpload(t, "audio", "big.mp3", bytes.Repeat([]byte("a"), 3<<20))
	rec = env.do(t, http.MethodPost, "/jobs", "alice", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: status = %d, want 413", rec.Code)
	}
}

func TestJobStatus(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		caller string
		id     string
		want   int
	}{
		{"owner", "alice", "j1", http.StatusOK},
		{"admin", "root", "j1", http.StatusOK},
		{"other user", "bob", "j1", http.StatusNotFound},
		{"unknown job", "alice", "j2", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/jobs/"+tt.id, tt.caller, nil, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	env.jobs.statuses["j3"] = intake.Status{
		JobID:    "j3",
		CallerID: "alice",
		State:    intake.StateFailed,
		Outcome: &intake.Outcome{
			JobID:    "j3",
			CallerID: "alice",
			State:    intake.StateFailed,
			Stage:    intake.StagePersistence,
			Error:    "internal error",
			Idea:     &ideas.Created{FolderName: "Seed_Delivery", Path: "/srv/v2v/ideas/Seed_Delivery"},
		},
	}
	owner := decode[intake.Status](t, env.do(t, http.MethodGet, "/jobs/j3", "alice", nil, ""))
	if owner.Outcome == nil || owner.Outcome.Idea == nil {
		t.Fatalf("owner status = %+v", owner)
	}
	if owner.Outcome.Idea.Path != "" || owner.Outcome.Idea.FolderName != "Seed_Delivery" {
		t.Errorf("owner sees idea %+v, want folder name without path", owner.Outcome.Idea)
	}
	admin := decode[intake.Status](t, env.do(t, http.MethodGet, "/jobs/j3", "root", nil, ""))
	if admin.Outcome == nil || admin.Outcome.Idea == nil || admin.Outcome.Idea.Path != "/srv/v2v/ideas/Seed_Delivery" {
		t.Errorf("admin status = %+v, want the folder path", admin.Outcome)
	}
	if p := env.jobs.statuses["j3"].Outcome.Idea.Path; p == "" {
		t.Error("tracked status was modified")
	}

	rec := env.do(t, http.MethodGet, "/pipeline", "bob", nil, "")
	body := decode[map[string]int](t, rec)
	if body["workers"] != 2 || body["active"] != 1 || body["queued"] != 2 {
		t.Errorf("pipeline = %v", body)
	}
}

func TestExportAndDownload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/exports", "bob", exportRequest{Folder: "Mobile_Delivery_App"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("export status = %d: %s", rec.Code, rec.Body)
	}
	pkg := decode[export.Package](t, rec)
	if pkg.FileCount != 4 || !strings.HasPrefix(pkg.URL, "/downloads/") {
		t.Fatalf("package = %+v", pkg)
	}

	// Downloads need no credentials.
	dl := httptest.NewRecorder()
	env.handler.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, pkg.URL, nil))
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d: %s", dl.Code, dl.Body)
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if sum := dl.Header().Get("X-Checksum-SHA256"); sum != pkg.Checksum {
		t.Errorf("checksum header = %q, want %q", sum, pkg.Checksum)
	}
	zr, err := zip.NewReader(bytes.NewReader(dl.Body.Bytes()), int64(dl.Body.Len()))
	if err != nil {
		t.Fatalf("reading zip: %v", err)
	}
	if len(zr.File) != 4 {
		t.Errorf("zip has %d entries, want 4", len(zr.File))
	}

	rec = env.do(t, http.MethodGet, "/exports", "bob", nil, "")
	links := decode[[]export.LinkSummary](t, rec)
	if len(links) != 1 || links[0].DownloadCount != 1 {
		t.Errorf("links = %+v", links)
	}

	rec = env.do(t, http.MethodDelete, "/exports/"+pkg.Token, "alice", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("revoke by other user: status = %d, want 403", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/exports/"+pkg.Token, "bob", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("revoke status = %d: %s", rec.Code, rec.Body)
	}

	dl = httptest.NewRecorder()
	env.handler.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, pkg.URL, nil))
	if dl.Code != http.StatusNotFound {
		t.Errorf("revoked download: status = %d, want 404", dl.Code)
	}
}

func TestExport_Rejections(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/exports", "bob", exportRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no folder: status = %d, want 400", rec.Code)
	}
	rec = env.doJSON(t, http.MethodPost, "/exports", "bob", exportRequest{Folder: "Nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing folder: status = %d, want 404", rec.Code)
	}
	rec = env.doJSON(t, http.MethodPost, "/exports", "mallory", exportRequest{Folder: "Mobile_Delivery_App"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("unknown caller: status = %d, want 403", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/ideas", "bob", nil, "")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `v2v_http_requests_total{code="200",method="GET",route="/ideas"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", rec.Body)
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, result.Errorf(result.KindPersistence, "disk /var/secret is full"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("body leaks details: %s", rec.Body)
	}
}
