package mysql

import (
	"context"
	"testing"
)

func TestMemoryStepRepositoryAppendAndList(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryStepRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx := context.Background()
	records := []StepRecord{
		{Step: "Research Write AI blog post", Succeeded: true, CreatedAt: 100},
		{Step: "Draft outline for Write AI blog post", Succeeded: true, CreatedAt: 101},
		{Step: "Create final output for Write AI blog post", Succeeded: false, CreatedAt: 102},
	}
	if err := repo.Append(ctx, records); err != nil {
		t.Fatalf("append: %v", err)
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 records, got %d", len(latest))
	}
	if latest[0].Step != "Create final output for Write AI blog post" {
		t.Fatalf("expected newest record first, got %q", latest[0].Step)
	}
}

func TestMemoryStepRepositoryReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryStepRepository(dir)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := repo.Append(ctx, []StepRecord{
		{Step: "first", Succeeded: true, CreatedAt: 1},
		{Step: "second", Succeeded: false, CreatedAt: 2},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := NewMemoryStepRepository(dir)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	restored, err := reopened.ListLatest(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 restored records, got %d", len(restored))
	}
	if restored[0].Step != "second" || restored[1].Step != "first" {
		t.Fatalf("unexpected order: %+v", restored)
	}
}

func TestMemoryStepRepositoryListWithoutRecords(t *testing.T) {
	repo, err := NewMemoryStepRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	latest, err := repo.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(latest) != 0 {
		t.Fatalf("expected no records, got %d", len(latest))
	}
}
