package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"oppscout-engine/internal/pipeline"
)

type PipelineHandler struct {
	Registry *pipeline.Registry
	Start    func(jobID string)
}

// Run kicks off a discovery run and returns immediately. The client polls
// the status endpoint with the returned job id.
func (h PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	job := h.Registry.Create()
	h.Start(job.ID)

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (h PipelineHandler) StatusByPath(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/pipeline-status/")
	if id == "" || strings.Contains(id, "/") {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "expected /api/pipeline-status/{job_id}")
		return
	}

	job, err := h.Registry.Snapshot(id)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		WriteError(w, r, http.StatusNotFound, "job_not_found", "no such job (it may have expired)")
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
