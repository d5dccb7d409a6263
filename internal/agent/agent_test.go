package agent

import (
	"context"
	"errors"
	"testing"
)

// sequenceSampler 按固定序列返回样本，耗尽后循环。
type sequenceSampler struct {
	samples []float64
	index   int
}

func (s *sequenceSampler) Float64() float64 {
	sample := s.samples[s.index%len(s.samples)]
	s.index++
	return sample
}

func TestPerceiveGoalTrimsWhitespace(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	goal, err := ag.PerceiveGoal("   Write AI blog post  \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goal != "Write AI blog post" {
		t.Fatalf("unexpected goal: %q", goal)
	}
}

func TestPerceiveGoalRejectsBlankInput(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	for _, goal := range []string{"", "   ", "\t\n "} {
		if _, err := ag.PerceiveGoal(goal); !errors.Is(err, ErrInvalidGoal) {
			t.Fatalf("goal %q: expected ErrInvalidGoal, got %v", goal, err)
		}
	}
}

func TestPlanExpandsGoalInOrder(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	steps := ag.Plan("Write AI blog post")
	want := []string{
		"Research Write AI blog post",
		"Draft outline for Write AI blog post",
		"Create final output for Write AI blog post",
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(steps))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d: expected %q, got %q", i, want[i], steps[i])
		}
	}
}

func TestNewClampsSuccessProbability(t *testing.T) {
	if p := New(1.5).SuccessProbability(); p != 1 {
		t.Fatalf("expected probability clamped to 1, got %v", p)
	}
	if p := New(-0.3).SuccessProbability(); p != 0 {
		t.Fatalf("expected probability clamped to 0, got %v", p)
	}
	if p := New(0.42).SuccessProbability(); p != 0.42 {
		t.Fatalf("expected probability 0.42, got %v", p)
	}
}

func TestActComparesSampleStrictly(t *testing.T) {
	sampler := &sequenceSampler{samples: []float64{0.1, 0.699, 0.7}}
	ag := New(0.7, WithSampler(sampler))

	results := ag.Act(context.Background(), []string{"a", "b", "c"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// 样本等于概率时视为失败。
	for i, want := range []bool{true, true, false} {
		if results[i].Succeeded != want {
			t.Fatalf("step %d: expected succeeded=%v, got %v", i, want, results[i].Succeeded)
		}
	}
}

func TestReflectReturnsFailedStepsInOrder(t *testing.T) {
	ag := New(DefaultSuccessProbability)
	results := []StepResult{
		{Step: "first", Succeeded: false},
		{Step: "second", Succeeded: true},
		{Step: "third", Succeeded: false},
	}

	retries := ag.Reflect(results)
	if len(retries) != 2 || retries[0] != "first" || retries[1] != "third" {
		t.Fatalf("unexpected retries: %v", retries)
	}

	// Reflect 不应修改输入,也不应影响历史统计。
	if results[0].Step != "first" || results[2].Step != "third" {
		t.Fatalf("input mutated: %v", results)
	}
	if summary := ag.GetSummary(); summary.Total != 0 {
		t.Fatalf("expected empty history, got %+v", summary)
	}
}

func TestReflectAllSucceededYieldsEmptySlice(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	retries := ag.Reflect([]StepResult{{Step: "only", Succeeded: true}})
	if retries == nil || len(retries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", retries)
	}
}

func TestGetSummaryZeroValuesBeforeExecution(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	summary := ag.GetSummary()
	if summary.Total != 0 || summary.Successful != 0 || summary.Failed != 0 || summary.SuccessRate != 0 {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestGetSummaryIsIdempotent(t *testing.T) {
	sampler := &sequenceSampler{samples: []float64{0.1, 0.9, 0.1}}
	ag := New(0.7, WithSampler(sampler))
	ag.Act(context.Background(), []string{"a", "b", "c"})

	first := ag.GetSummary()
	second := ag.GetSummary()
	if first != second {
		t.Fatalf("summary changed between reads: %+v vs %+v", first, second)
	}
	if first.Total != 3 || first.Successful != 2 || first.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", first)
	}
}

func TestActEmptyStepsLeavesHistoryUntouched(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	for _, steps := range [][]string{nil, {}} {
		results := ag.Act(context.Background(), steps)
		if len(results) != 0 {
			t.Fatalf("expected no results for %v, got %v", steps, results)
		}
	}
	if summary := ag.GetSummary(); summary.Total != 0 {
		t.Fatalf("expected empty history, got %+v", summary)
	}
}

func TestGetSummaryAccumulatesAcrossExecutions(t *testing.T) {
	sampler := &sequenceSampler{samples: []float64{0.1, 0.9, 0.1, 0.1, 0.9, 0.9}}
	ag := New(0.5, WithSampler(sampler))

	ag.Act(context.Background(), []string{"a", "b", "c"})
	ag.Act(context.Background(), []string{"d", "e", "f"})

	summary := ag.GetSummary()
	if summary.Total != 6 {
		t.Fatalf("expected 6 steps, got %d", summary.Total)
	}
	if summary.Successful != 3 || summary.Failed != 3 {
		t.Fatalf("unexpected tallies: %+v", summary)
	}
	if summary.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", summary.SuccessRate)
	}
}

func TestExecuteAllStepsSucceedWithCertainProbability(t *testing.T) {
	ag := New(1.0)

	report, err := ag.Execute(context.Background(), RunRequest{Goal: "Write AI blog post"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 3 || report.Successful != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %v", report.SuccessRate)
	}
	if len(report.Retries) != 0 {
		t.Fatalf("expected no retries, got %v", report.Retries)
	}
}

func TestExecuteAllStepsFailWithZeroProbability(t *testing.T) {
	ag := New(0.0)

	report, err := ag.Execute(context.Background(), RunRequest{Goal: "Write AI blog post"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Successful != 0 || report.Failed != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Retries) != 3 {
		t.Fatalf("expected every step retried, got %v", report.Retries)
	}
	if report.Retries[0] != "Research Write AI blog post" {
		t.Fatalf("unexpected first retry: %q", report.Retries[0])
	}
}

func TestExecuteRejectsInvalidGoal(t *testing.T) {
	ag := New(DefaultSuccessProbability)

	if _, err := ag.Execute(context.Background(), RunRequest{Goal: "  "}); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal, got %v", err)
	}
	if summary := ag.GetSummary(); summary.Total != 0 {
		t.Fatalf("invalid goal must not touch history, got %+v", summary)
	}
}
