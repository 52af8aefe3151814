package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCreateJob_EmptyBody(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs", `{}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	if errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", errObj["code"])
	}
}

func TestCreateJob_InvalidConfig(t *testing.T) {
	ta := setupApp(t)

	// Song length outside the allowed 30-90 second window
	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs",
		`{"document": "wear your helmet", "config": {"length_seconds": 300}}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestJobLifecycle_CreateGetCancel(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs",
		`{"document": "Always wear a helmet on site. Inspect the harness before climbing."}`)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	created := parseJSON(t, resp)
	jobID, _ := created["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job_id in response: %v", created)
	}
	if created["status"] != "queued" {
		t.Errorf("expected queued, got %v", created["status"])
	}

	// Fetch it back
	resp, err = doRequest(ta.app, http.MethodGet, "/api/jobs/"+jobID, "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	job := parseJSON(t, resp)
	if job["job_id"] != jobID {
		t.Errorf("job id mismatch: %v", job["job_id"])
	}

	// Cancel while still queued
	resp, err = doRequest(ta.app, http.MethodPost, fmt.Sprintf("/api/jobs/%s/cancel", jobID), "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	canceled := parseJSON(t, resp)
	if canceled["status"] != "canceled" {
		t.Errorf("expected canceled, got %v", canceled["status"])
	}

	// Second cancel conflicts
	resp, err = doRequest(ta.app, http.MethodPost, fmt.Sprintf("/api/jobs/%s/cancel", jobID), "")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestGetJob_NotFound(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestResume_NotAwaitingReview(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs",
		`{"document": "Lockout tagout before maintenance."}`)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	created := parseJSON(t, resp)
	jobID, _ := created["job_id"].(string)

	// Job is queued, not paused for review
	resp, err = doRequest(ta.app, http.MethodPost, fmt.Sprintf("/api/jobs/%s/hitl", jobID),
		`{"selected_concept_id": "c1"}`)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestResume_MissingConceptID(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/jobs/any/hitl", `{}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}
