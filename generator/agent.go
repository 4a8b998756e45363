package generator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"auto_content_pipeline/depth"
)

// Agent 把一个阶段的提示词与 LLM 绑定，充当编排器需要的生成、裁判、合并与校验角色。
type Agent struct {
	llm   LLMClient
	stage Stage
}

func NewAgent(llm LLMClient, stage Stage) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if stage.Name == "" {
		return nil, errors.New("stage is required")
	}
	return &Agent{llm: llm, stage: stage}, nil
}

func (a *Agent) Stage() Stage { return a.stage }

// Generate writes one independent draft.
func (a *Agent) Generate(ctx context.Context, inputs depth.Inputs, sizeHint int) (string, error) {
	prompt, err := BuildDraftPrompt(a.stage, inputs.Payload, sizeHint)
	if err != nil {
		return "", err
	}
	raw, err := a.llm.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return PostProcess(raw, a.stage)
}

// Compare returns the raw referee answer; parsing belongs to the orchestrator.
func (a *Agent) Compare(ctx context.Context, x, y depth.Candidate) (string, error) {
	return a.llm.Complete(ctx, BuildRefereePrompt(a.stage, x, y))
}

func (a *Agent) Merge(ctx context.Context, req depth.PolishRequest) (string, error) {
	if len(req.Drafts) == 0 {
		return "", errors.New("nothing to merge")
	}
	raw, err := a.llm.Complete(ctx, BuildPolishPrompt(a.stage, req))
	if err != nil {
		return "", err
	}
	return PostProcess(raw, a.stage)
}

func (a *Agent) Verify(ctx context.Context, merged string, sources []string) (bool, string, error) {
	raw, err := a.llm.Complete(ctx, BuildVerifyPrompt(merged, sources))
	if err != nil {
		return false, "", err
	}
	ok, reason := ParseVerdict(raw)
	return ok, reason, nil
}

// Collaborators wires the agent into every orchestrator role.
func (a *Agent) Collaborators(trimmer depth.Trimmer) depth.Collaborators {
	return depth.Collaborators{
		Generator: a,
		Referee:   a,
		Polisher:  a,
		Verifier:  a,
		Trimmer:   trimmer,
		Local:     a.stage.Check,
	}
}

var (
	verdictRe = regexp.MustCompile(`(?is)<verdict>\s*(.*?)\s*</verdict>`)
	reasonRe  = regexp.MustCompile(`(?is)<reason>\s*(.*?)\s*</reason>`)
)

// ParseVerdict reads <verdict>pass|fail</verdict>. Anything unreadable fails.
func ParseVerdict(raw string) (bool, string) {
	reason := ""
	if m := reasonRe.FindStringSubmatch(raw); m != nil {
		reason = strings.TrimSpace(m[1])
	}
	m := verdictRe.FindStringSubmatch(raw)
	if m == nil {
		return false, "unparseable verifier output"
	}
	switch strings.ToLower(strings.TrimSpace(m[1])) {
	case "pass", "yes", "ok":
		return true, reason
	case "fail", "no":
		if reason == "" {
			reason = "verifier found unsupported content"
		}
		return false, reason
	default:
		return false, fmt.Sprintf("unknown verdict %q", m[1])
	}
}
