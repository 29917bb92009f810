package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"oppscout-engine/internal/pipeline"
)

func TestRunPipelineStartsJob(t *testing.T) {
	reg := pipeline.NewRegistry(nil, time.Hour)
	started := ""
	h := PipelineHandler{Registry: reg, Start: func(id string) { started = id }}

	req := httptest.NewRequest(http.MethodPost, "/api/run-pipeline", nil)
	rec := httptest.NewRecorder()
	h.Run(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["job_id"] == "" || body["status"] != "pending" {
		t.Fatalf("body = %v", body)
	}
	if started != body["job_id"] {
		t.Fatalf("runner not started with the returned id: %q vs %q", started, body["job_id"])
	}
}

func TestPipelineStatusPolling(t *testing.T) {
	reg := pipeline.NewRegistry(nil, time.Hour)
	job := reg.Create()
	reg.MarkRunning(job.ID)
	reg.AppendLog(job.ID, "✅ SAM.gov: 4 opportunities found")
	h := PipelineHandler{Registry: reg}

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline-status/"+job.ID, nil)
	rec := httptest.NewRecorder()
	h.StatusByPath(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var snap pipeline.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Status != pipeline.StatusRunning {
		t.Fatalf("status = %s", snap.Status)
	}
	if len(snap.Log) != 1 || snap.Log[0].Text != "✅ SAM.gov: 4 opportunities found" {
		t.Fatalf("log = %+v", snap.Log)
	}
}

func TestPipelineStatusReportFields(t *testing.T) {
	reg := pipeline.NewRegistry(nil, time.Hour)
	h := PipelineHandler{Registry: reg}

	statusBody := func(id string) map[string]json.RawMessage {
		req := httptest.NewRequest(http.MethodGet, "/api/pipeline-status/"+id, nil)
		rec := httptest.NewRecorder()
		h.StatusByPath(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var body map[string]json.RawMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	// degraded run: opportunity artifact present, match filename null
	degraded := reg.Create()
	opps := "opportunities_20260901_120000.csv"
	reg.Complete(degraded.ID, &opps, nil, true)

	body := statusBody(degraded.ID)
	if string(body["opps_report_filename"]) != `"`+opps+`"` {
		t.Fatalf("opps_report_filename = %s", body["opps_report_filename"])
	}
	if string(body["match_report_filename"]) != "null" {
		t.Fatalf("match_report_filename must be null, got %s", body["match_report_filename"])
	}

	// a job that never finished carries both fields as null
	running := reg.Create()
	reg.MarkRunning(running.ID)
	body = statusBody(running.ID)
	if string(body["opps_report_filename"]) != "null" || string(body["match_report_filename"]) != "null" {
		t.Fatalf("unfinished job must expose null filenames: %s / %s",
			body["opps_report_filename"], body["match_report_filename"])
	}
}

func TestPipelineStatusUnknownJob(t *testing.T) {
	h := PipelineHandler{Registry: pipeline.NewRegistry(nil, time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline-status/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.StatusByPath(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	var e APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("404 must be a JSON error envelope: %v", err)
	}
	if e.Error.Code != "job_not_found" {
		t.Fatalf("code = %q", e.Error.Code)
	}
}

func TestPipelineStatusBadPath(t *testing.T) {
	h := PipelineHandler{Registry: pipeline.NewRegistry(nil, time.Hour)}

	req := httptest.NewRequest(http.MethodGet, "/api/pipeline-status/", nil)
	rec := httptest.NewRecorder()
	h.StatusByPath(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
