package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/lms-courier/internal/job"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// listJobs handles GET /v1/jobs?status=&owner=&limit=&offset=. Jobs are
// ordered by start time, oldest first.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status job.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))

	infos := s.jobs.Jobs()
	filtered := make([]job.Info, 0, len(infos))
	for _, info := range infos {
		if status != "" && info.Status != status {
			continue
		}
		if owner != "" && info.Owner != owner {
			continue
		}
		filtered = append(filtered, info)
	}
	slices.SortFunc(filtered, func(a, b job.Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	total := len(filtered)
	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  toJobDTOs(filtered),
		"total": total,
	})
}

// getJob handles GET /v1/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	for _, info := range s.jobs.Jobs() {
		if info.ID == jobID {
			writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(info)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "job not found")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (job.Status, error) {
	switch s := job.Status(strings.ToLower(input)); s {
	case job.StatusRunning, job.StatusCancelRequested, job.StatusCompleted,
		job.StatusFailed, job.StatusTimedOut, job.StatusInterrupted:
		return s, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toJobDTOs(in []job.Info) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, info := range in {
		out = append(out, toJobDTO(info))
	}
	return out
}

func toJobDTO(info job.Info) jobDTO {
	return jobDTO{
		ID:          info.ID,
		Owner:       info.Owner,
		PID:         info.PID,
		Status:      string(info.Status),
		Reason:      info.Reason,
		CancelCause: string(info.CancelCause),
		StartedAt:   info.StartedAt,
		Deadline:    info.Deadline,
	}
}

type jobDTO struct {
	ID          string    `json:"job_id"`
	Owner       string    `json:"owner"`
	PID         int       `json:"pid"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	CancelCause string    `json:"cancel_cause,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Deadline    string    `json:"deadline"`
}
