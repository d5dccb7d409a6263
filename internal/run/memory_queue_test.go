package run

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePublishConsumeRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu       sync.Mutex
		received []string
	)
	go queue.Consume(ctx, 2, func(_ context.Context, runID string) error {
		mu.Lock()
		received = append(received, runID)
		if len(received) == 3 {
			cancel()
		}
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := queue.Publish(context.Background(), id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		count := len(received)
		mu.Unlock()
		if count == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("consumed %d of 3 runs", count)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}
	if err := queue.Publish(context.Background(), "r1"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("unexpected error: %v", err)
	}
	// 重复关闭不应出错。
	if err := queue.Close(); err != nil {
		t.Fatalf("close queue again: %v", err)
	}
}

// 关闭队列时阻塞中的投递必须得到关闭错误，而不是触发 panic。
func TestMemoryQueueCloseUnblocksPendingPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), "r1"); err != nil {
		t.Fatalf("fill queue: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				t.Errorf("publish panicked: %v", recovered)
				errCh <- nil
			}
		}()
		errCh <- queue.Publish(context.Background(), "r2")
	}()

	// 等第二次投递真正阻塞在满员的队列上。
	time.Sleep(20 * time.Millisecond)
	if err := queue.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish still blocked after close")
	}
}
