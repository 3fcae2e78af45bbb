package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/v2v/internal/search"
)

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := q.Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "q is required")
			return
		}
		filters := search.Filters{
			Category: q.Get("category"),
			Maturity: q.Get("maturity"),
			Creator:  q.Get("creator"),
			Tags:     listParam(r, "tags"),
		}
		res, err := deps.Search.Search(r.Context(), callerFrom(r), query, filters, parseIntParam(r, "limit", search.DefaultLimit, 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSuggest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := deps.Search.Suggest(r.Context(), callerFrom(r), r.URL.Query().Get("prefix"),
			parseIntParam(r, "limit", search.DefaultSuggestLimit, 50))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"suggestions": names})
	}
}

type advancedRequest struct {
	search.Criteria
	Limit int `json:"limit"`
}

func handleAdvancedSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		defer r.Body.Close()

		var req advancedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}
		limit := req.Limit
		if limit > 200 {
			limit = 200
		}
		res, err := deps.Search.Advanced(r.Context(), callerFrom(r), req.Criteria, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRecent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Search.Recent(r.Context(), callerFrom(r),
			parseIntParam(r, "days", search.DefaultRecentDays, 365),
			parseIntParam(r, "limit", search.DefaultRecentLimit, 100))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type statsResponse struct {
	Ideas    search.Stats   `json:"ideas"`
	Exports  any            `json:"exports,omitempty"`
	Pipeline map[string]int `json:"pipeline,omitempty"`
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Search.Statistics(r.Context(), callerFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp := statsResponse{Ideas: st}
		if deps.Exports != nil {
			resp.Exports = deps.Exports.Stats()
		}
		if deps.Jobs != nil {
			resp.Pipeline = map[string]int{
				"workers": deps.Jobs.Workers(),
				"active":  deps.Jobs.Active(),
				"queued":  deps.Jobs.QueueLen(),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
