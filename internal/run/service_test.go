package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"PlanPilot/internal/agent"
	xerrors "PlanPilot/internal/errors"
)

func TestServiceSubmitQueuesRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 5)

	run, err := service.Submit(ctx, agent.RunRequest{Goal: "Write AI blog post", Metadata: map[string]any{"channel": "blog"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if run.ID == "" || run.Status != StatusPending || run.MaxRetries != 5 {
		t.Fatalf("unexpected run: %+v", run)
	}

	select {
	case id := <-queue.ch:
		if id != run.ID {
			t.Fatalf("queued id %s does not match run %s", id, run.ID)
		}
	default:
		t.Fatalf("expected run to be queued")
	}

	stored, err := service.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Goal != "Write AI blog post" || stored.Metadata["channel"] != "blog" {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
}

func TestServiceSubmitRejectsBlankGoal(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 3)

	_, err := service.Submit(context.Background(), agent.RunRequest{Goal: "   "})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if xerrors.CodeOf(err) != CodeRunValidation {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
}

func TestServiceSubmitIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, agent.RunRequest{ID: "fixed", Goal: "goal one"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	second, err := service.Submit(ctx, agent.RunRequest{ID: "fixed", Goal: "goal two"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Goal != "goal one" {
		t.Fatalf("expected existing run returned, got %+v", second)
	}

	// 重复提交不应再次入队。
	<-queue.ch
	select {
	case id := <-queue.ch:
		t.Fatalf("unexpected second publish: %s", id)
	default:
	}
}

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return errors.New("broker offline")
}

func (failingProducer) Close() error { return nil }

func TestServiceSubmitMarksFailedOnPublishError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(ctx, agent.RunRequest{ID: "r1", Goal: "g"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if xerrors.CodeOf(err) != CodeRunPublish {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}

	stored, getErr := store.Get(ctx, "r1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if stored.Status != StatusFailed || stored.ErrorCode != string(CodeRunPublish) {
		t.Fatalf("expected failed run, got %+v", stored)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)

	run, err := service.Submit(ctx, agent.RunRequest{Goal: "g"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.MarkSucceeded(context.Background(), run.ID, Outcome{Total: 3, Successful: 3, SuccessRate: 1})
	}()

	done, err := service.WaitUntilCompleted(ctx, run.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded {
		t.Fatalf("unexpected status: %s", done.Status)
	}
}
