package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "PlanPilot/internal/errors"
	"PlanPilot/internal/playbook"
	"PlanPilot/internal/storage/mysql"
	"PlanPilot/pkg/logger"
)

// CodeInvalidGoal 表示调用方提交的目标不合法。
const CodeInvalidGoal xerrors.Code = "INVALID_GOAL"

// ErrInvalidGoal 在目标为空或仅包含空白字符时返回。
var ErrInvalidGoal = xerrors.New(CodeInvalidGoal, "goal must be a non-empty string")

func init() {
	xerrors.Register(CodeInvalidGoal, xerrors.Attributes{
		Message:   "goal must be a non-empty string",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// StepResult 保存一个步骤的模拟执行结果。
type StepResult struct {
	Step      string `json:"step"`
	Succeeded bool   `json:"succeeded"`
}

// Summary 汇总自 Agent 构造以来所有步骤的执行统计。
type Summary struct {
	Total       int     `json:"total"`
	Successful  int     `json:"successful"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// RunRequest 描述一次完整的目标执行请求。
type RunRequest struct {
	ID       string         `json:"id,omitempty"`
	Goal     string         `json:"goal"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Report 汇总一次目标执行得到的结果。
type Report struct {
	Goal        string       `json:"goal"`
	Steps       []StepResult `json:"steps"`
	Retries     []string     `json:"retries"`
	Total       int          `json:"total"`
	Successful  int          `json:"successful"`
	Failed      int          `json:"failed"`
	SuccessRate float64      `json:"success_rate"`
	CreatedAt   int64        `json:"created_at"`
}

// Agent 负责目标的感知、规划、模拟执行与反思，是系统的业务核心。
type Agent struct {
	successProbability float64
	sampler            Sampler
	profile            *playbook.Profile
	stepStorage        mysql.StepRepository

	mu      sync.Mutex
	history []StepResult
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// DefaultSuccessProbability 是未显式配置时每个步骤的成功概率。
const DefaultSuccessProbability = 0.7

// WithSampler 注入自定义的随机源，便于测试时提供确定性序列。
func WithSampler(sampler Sampler) Option {
	return func(a *Agent) {
		if sampler != nil {
			a.sampler = sampler
		}
	}
}

// WithProfile 指定规划阶段使用的步骤模板。
func WithProfile(profile *playbook.Profile) Option {
	return func(a *Agent) {
		if profile != nil {
			a.profile = profile
		}
	}
}

// WithStepRepository 配置步骤执行记录的持久化存储。
func WithStepRepository(repo mysql.StepRepository) Option {
	return func(a *Agent) {
		a.stepStorage = repo
	}
}

// New 创建一个 Agent。successProbability 会被收敛到 [0, 1] 区间。
func New(successProbability float64, opts ...Option) *Agent {
	ag := &Agent{
		successProbability: clampProbability(successProbability),
		sampler:            defaultSampler(),
		profile:            playbook.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// SuccessProbability 返回当前配置的步骤成功概率。
func (a *Agent) SuccessProbability() float64 {
	return a.successProbability
}

// PerceiveGoal 校验目标并返回裁剪后的文本。
func (a *Agent) PerceiveGoal(goal string) (string, error) {
	trimmed := strings.TrimSpace(goal)
	if trimmed == "" {
		return "", ErrInvalidGoal
	}
	return trimmed, nil
}

// Plan 将目标展开为有序的步骤列表。纯函数，不读取也不修改 Agent 状态。
func (a *Agent) Plan(goal string) []string {
	profile := a.profile
	if profile == nil {
		profile = playbook.Default()
	}
	return profile.Steps(goal)
}

// Act 依次模拟执行每个步骤：为步骤抽取一个独立的均匀随机样本，
// 样本严格小于成功概率即视为成功。所有结果按输入顺序追加到历史记录。
func (a *Agent) Act(ctx context.Context, steps []string) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		sample := a.sampler.Float64()
		results = append(results, StepResult{
			Step:      step,
			Succeeded: sample < a.successProbability,
		})
	}

	a.mu.Lock()
	a.history = append(a.history, results...)
	a.mu.Unlock()

	// 持久化失败不影响执行结果，只记录日志。
	if a.stepStorage != nil && len(results) > 0 {
		if err := a.persist(ctx, results); err != nil {
			logger.L().Error("保存步骤执行记录失败", slog.Any("error", err))
		}
	}
	return results
}

// Reflect 找出需要重试的步骤：返回失败步骤的描述，保持原有顺序。
// 纯函数，仅依据传入的结果，不读取历史记录。
func (a *Agent) Reflect(results []StepResult) []string {
	retries := make([]string, 0)
	for _, result := range results {
		if !result.Succeeded {
			retries = append(retries, result.Step)
		}
	}
	return retries
}

// GetSummary 基于全部历史记录计算执行统计。历史为空时返回零值统计。
func (a *Agent) GetSummary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := Summary{Total: len(a.history)}
	for _, result := range a.history {
		if result.Succeeded {
			summary.Successful++
		}
	}
	summary.Failed = summary.Total - summary.Successful
	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Successful) / float64(summary.Total)
	}
	return summary
}

// Execute 串联感知、规划、执行与反思，返回一次完整的执行报告。
func (a *Agent) Execute(ctx context.Context, req RunRequest) (*Report, error) {
	goal, err := a.PerceiveGoal(req.Goal)
	if err != nil {
		return nil, err
	}

	steps := a.Plan(goal)
	results := a.Act(ctx, steps)
	retries := a.Reflect(results)

	report := &Report{
		Goal:      goal,
		Steps:     results,
		Retries:   retries,
		Total:     len(results),
		CreatedAt: time.Now().Unix(),
	}
	for _, result := range results {
		if result.Succeeded {
			report.Successful++
		}
	}
	report.Failed = report.Total - report.Successful
	if report.Total > 0 {
		report.SuccessRate = float64(report.Successful) / float64(report.Total)
	}
	return report, nil
}

// persist 将步骤结果写入持久化存储。
func (a *Agent) persist(ctx context.Context, results []StepResult) error {
	now := time.Now().Unix()
	records := make([]mysql.StepRecord, 0, len(results))
	for _, result := range results {
		records = append(records, mysql.StepRecord{
			Step:      result.Step,
			Succeeded: result.Succeeded,
			CreatedAt: now,
		})
	}
	return a.stepStorage.Append(ctx, records)
}

// clampProbability 将概率收敛到 [0, 1] 区间。
func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
