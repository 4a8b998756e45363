package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"auto_content_pipeline/cache"
	"auto_content_pipeline/config"
	"auto_content_pipeline/depth"
	"auto_content_pipeline/generator"
	"auto_content_pipeline/publisher"
)

const (
	defaultUnit = "global"
	trimRatio   = 0.5
	trimMinRune = 200
)

// RunRequest asks for one stage run over one unit.
type RunRequest struct {
	RunID    string         `json:"run_id,omitempty"`
	Stage    string         `json:"stage"`
	Unit     string         `json:"unit"`
	Inputs   map[string]any `json:"inputs"`
	Depth    int            `json:"depth,omitempty"` // 0 使用配置里的 depth
	SizeHint int            `json:"size_hint,omitempty"`
	Refresh  bool           `json:"refresh,omitempty"`
}

// RunReport is what a finished run leaves behind.
type RunReport struct {
	RunID      string            `json:"run_id"`
	Subject    depth.Subject     `json:"subject"`
	Result     depth.Result      `json:"result"`
	Files      publisher.Written `json:"files"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Runner 组装配置、缓存、LLM 与发布器，对外只暴露按阶段运行。
type Runner struct {
	cfg   *config.Config
	llm   generator.LLMClient
	store cache.Store
	pub   *publisher.Publisher
	now   func() time.Time
}

func New(cfg *config.Config, llm generator.LLMClient, store cache.Store, pub *publisher.Publisher) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if store == nil {
		return nil, errors.New("draft cache is required")
	}
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &Runner{cfg: cfg, llm: llm, store: store, pub: pub, now: time.Now}, nil
}

// NewFromConfig builds every dependency from cfg.
func NewFromConfig(cfg *config.Config) (*Runner, error) {
	llm, err := BuildLLM(cfg.LLM)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Dir, cfg.Cache.DSN)
	if err != nil {
		return nil, err
	}
	pub, err := publisher.New(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	return New(cfg, llm, store, pub)
}

// BuildLLM picks the transport for the configured provider.
func BuildLLM(cfg config.LLMConfig) (generator.LLMClient, error) {
	settings := &generator.LLMSettings{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return generator.NewOpenAILLMFromConfig(settings)
	case config.ProviderDeepSeek:
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url（例如官方/网关地址）。
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAILLMFromConfig(settings)
	case config.ProviderMock:
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}

// Stage resolves a stage name and applies the configured size target.
func (r *Runner) Stage(name string) (generator.Stage, error) {
	stage, err := generator.StageByName(name)
	if err != nil {
		return generator.Stage{}, err
	}
	return stage.WithTarget(r.cfg.Targets[name]), nil
}

func (r *Runner) orchestrator(stage generator.Stage, refresh bool) (*depth.Orchestrator, error) {
	agent, err := generator.NewAgent(r.llm, stage)
	if err != nil {
		return nil, err
	}
	trimmer := generator.PayloadTrimmer{Ratio: trimRatio, MinChars: trimMinRune}
	return depth.NewOrchestrator(agent.Collaborators(trimmer), r.store,
		depth.WithCallTimeout(r.cfg.CallTimeout),
		depth.WithDraftWorkers(r.cfg.DraftWorkers),
		depth.WithRefresh(refresh),
	)
}

// Run generates, checks and publishes one stage for one unit.
func (r *Runner) Run(ctx context.Context, req RunRequest) (RunReport, error) {
	stage, err := r.Stage(req.Stage)
	if err != nil {
		return RunReport{}, err
	}
	level := req.Depth
	if level == 0 {
		level = r.cfg.Depth
	}
	if err := depth.ValidateDepth(level); err != nil {
		return RunReport{}, err
	}
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = defaultUnit
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	orch, err := r.orchestrator(stage, req.Refresh)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{
		RunID:     runID,
		Subject:   depth.Subject{Stage: stage.Name, Unit: unit},
		StartedAt: r.now(),
	}
	klog.Infof("[pipeline] run %s: %s depth=%d refresh=%t", runID, report.Subject, level, req.Refresh)

	// 未指定长度时取阶段目标，使配置里的 targets 变化也会换指纹
	sizeHint := req.SizeHint
	if sizeHint <= 0 {
		sizeHint = stage.Target
	}
	inputs := depth.Inputs{Payload: req.Inputs, SizeHint: sizeHint}
	res, err := orch.Run(ctx, report.Subject, inputs, level)
	if err != nil {
		return RunReport{}, fmt.Errorf("run %s %s: %w", runID, report.Subject, err)
	}
	if stage.Unit == generator.UnitChars {
		res.Text = generator.TrimToCharLimit(res.Text, stage.Target)
	}
	report.Result = res

	files, err := r.pub.Publish(publisher.Output{
		RunID:   runID,
		Subject: report.Subject,
		Result:  res,
		Date:    report.StartedAt,
	})
	if err != nil {
		return RunReport{}, fmt.Errorf("publish %s: %w", report.Subject, err)
	}
	report.Files = files
	report.FinishedAt = r.now()

	if res.FallbackTriggered {
		klog.Warningf("[pipeline] run %s used fallback draft: %s", runID, res.FallbackReason)
	}
	klog.Infof("[pipeline] run %s done: cache_hits=%d generated=%d -> %s", runID, res.CacheHits, res.Generated, files.Text)
	return report, nil
}

// PurgeCache drops cached drafts for a stage, or for one unit of it.
func (r *Runner) PurgeCache(stage, unit string) (int, error) {
	if _, err := generator.StageByName(stage); err != nil {
		return 0, err
	}
	n, err := r.store.Purge(stage, unit)
	if err != nil {
		return n, fmt.Errorf("purge %s/%s: %w", stage, unit, err)
	}
	klog.Infof("[pipeline] purged %d cached drafts for stage=%s unit=%q", n, stage, unit)
	return n, nil
}
