package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/scuttle/pkg/types"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.HostID == "" || req.URL == "" {
		badRequest(w, "host_id and url are required")
		return
	}

	task, err := s.manager.SubmitTask(req.HostID, req.URL, req.TaskOptions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleSubmitTasksBulk(w http.ResponseWriter, r *http.Request) {
	var req SubmitTasksBulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.HostID == "" || len(req.URLs) == 0 {
		badRequest(w, "host_id and urls are required")
		return
	}

	result, err := s.manager.SubmitTasksBulk(req.HostID, req.URLs, req.TaskOptions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleQueryTasks translates query parameters onto types.TaskQuery.
// Statuses is a comma-separated list; times are RFC 3339.
func (s *Server) handleQueryTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := types.TaskQuery{
		Filter: types.TaskFilter{HostID: q.Get("host_id")},
		Sort:   types.TaskSortKey(q.Get("sort")),
		Cursor: q.Get("cursor"),
	}
	if query.Sort == "" {
		query.Sort = types.TaskSortCreatedAt
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := types.TaskStatus(strings.TrimSpace(part))
			if !status.Valid() {
				badRequest(w, "unknown status %q", status)
				return
			}
			query.Filter.Statuses = append(query.Filter.Statuses, status)
		}
	}

	var err error
	if query.Filter.PriorityMin, err = intParam(q.Get("priority_min")); err != nil {
		badRequest(w, "priority_min: %v", err)
		return
	}
	if query.Filter.PriorityMax, err = intParam(q.Get("priority_max")); err != nil {
		badRequest(w, "priority_max: %v", err)
		return
	}
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		badRequest(w, "limit: %v", err)
		return
	}
	if query.Filter.CreatedAfter, err = timeParam(q.Get("created_after")); err != nil {
		badRequest(w, "created_after: %v", err)
		return
	}
	if query.Filter.CreatedBefore, err = timeParam(q.Get("created_before")); err != nil {
		badRequest(w, "created_before: %v", err)
		return
	}
	if query.Filter.FailedAfter, err = timeParam(q.Get("failed_after")); err != nil {
		badRequest(w, "failed_after: %v", err)
		return
	}
	if raw := q.Get("is_recurring"); raw != "" {
		recurring, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "is_recurring: %v", err)
			return
		}
		query.Filter.IsRecurring = &recurring
	}
	if raw := q.Get("desc"); raw != "" {
		if query.Desc, err = strconv.ParseBool(raw); err != nil {
			badRequest(w, "desc: %v", err)
			return
		}
	}

	page, err := s.manager.QueryTasks(query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.PauseTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.ResumeTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.CancelTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	var req RestartTaskRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	var task *types.CrawlTask
	var err error
	if req.ParseOnly {
		task, err = s.manager.RestartParseOnly(id)
	} else {
		task, err = s.manager.RestartTask(id, req.RestartOptions)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRestartFailed(w http.ResponseWriter, r *http.Request) {
	var req RestartFailedRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.manager.BulkRestartFailed(req.HostID, req.FailedAfter, req.Limit, req.RestartOptions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChangePriority(w http.ResponseWriter, r *http.Request) {
	var req ChangePriorityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.manager.ChangePriority(chi.URLParam(r, "id"), req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	var task *types.CrawlTask
	var err error
	switch req.Stage {
	case "crawl":
		task, err = s.manager.ClaimCrawl(id)
	case "parse":
		task, err = s.manager.ClaimParse(id)
	default:
		badRequest(w, "stage must be crawl or parse, got %q", req.Stage)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRecordAttempt(w http.ResponseWriter, r *http.Request) {
	var outcome types.Attempt
	if err := decodeJSON(w, r, &outcome); err != nil {
		writeError(w, err)
		return
	}

	task, err := s.manager.RecordAttempt(chi.URLParam(r, "id"), outcome)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
