package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PlanPilot/internal/agent"
	"PlanPilot/internal/run"
)

func TestHandleRunDetailSuccess(t *testing.T) {
	store := run.NewMemoryStore()
	svc := run.NewService(store, run.NewMemoryQueue(4), 3)
	server := NewServer(":0", svc)

	sample := &run.Run{
		ID:         "run-success",
		Goal:       "demo",
		Status:     run.StatusSucceeded,
		Attempts:   1,
		MaxRetries: 3,
		CreatedAt:  1700000000,
		UpdatedAt:  1700000001,
		Result: &run.Outcome{
			Steps: []run.StepOutcome{
				{Step: "Research demo", Succeeded: true},
			},
			Total:       1,
			Successful:  1,
			SuccessRate: 1,
		},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success", nil)
	rec := httptest.NewRecorder()

	server.handleRunDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got run.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID {
		t.Fatalf("unexpected run id: got %q want %q", got.ID, sample.ID)
	}
	if got.Result == nil || got.Result.SuccessRate != 1 {
		t.Fatalf("unexpected run result: %+v", got.Result)
	}
}

func TestHandleRunDetailErrors(t *testing.T) {
	server := NewServer(":0", run.NewService(run.NewMemoryStore(), run.NewMemoryQueue(4), 3))

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-1", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
		rec := httptest.NewRecorder()

		server.handleRunDetail(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestHandleCreateRun(t *testing.T) {
	svc := run.NewService(run.NewMemoryStore(), run.NewMemoryQueue(4), 3)
	server := NewServer(":0", svc)

	t.Run("accepted", func(t *testing.T) {
		body := strings.NewReader(`{"goal": "Write AI blog post"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
		rec := httptest.NewRecorder()

		server.handleRuns(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
		}
		var got run.Run
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.ID == "" || got.Status != run.StatusPending {
			t.Fatalf("unexpected run: %+v", got)
		}
	})

	t.Run("blank goal", func(t *testing.T) {
		body := strings.NewReader(`{"goal": "   "}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
		rec := httptest.NewRecorder()

		server.handleRuns(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{"))
		rec := httptest.NewRecorder()

		server.handleRuns(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestHandleSummary(t *testing.T) {
	svc := run.NewService(run.NewMemoryStore(), run.NewMemoryQueue(4), 3)
	ag := agent.New(1.0)
	server := NewServer(":0", svc, WithAgent(ag))

	if _, err := ag.Execute(context.Background(), agent.RunRequest{Goal: "demo"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	rec := httptest.NewRecorder()

	server.handleSummary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var got agent.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 3 || got.Successful != 3 || got.SuccessRate != 1 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestHandleSummaryWithoutAgent(t *testing.T) {
	server := NewServer(":0", run.NewService(run.NewMemoryStore(), run.NewMemoryQueue(4), 3))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil)
	rec := httptest.NewRecorder()

	server.handleSummary(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}
