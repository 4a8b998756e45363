package depth

import (
	"context"
	"strings"

	"k8s.io/klog/v2"
)

// Verdict is the gate's decision for one merged candidate.
type Verdict struct {
	Passed bool
	Reason string
}

// LocalCheck returns a non-empty issue when text is structurally unusable.
type LocalCheck func(text string) string

// QualityGate owns the pass/fail boundary for merged output.
type QualityGate struct {
	verifier Verifier
	local    LocalCheck
}

// NewQualityGate 组合本地结构检查与外部校验。verifier 为 nil 时只做本地检查。
func NewQualityGate(verifier Verifier, local LocalCheck) *QualityGate {
	return &QualityGate{verifier: verifier, local: local}
}

// Check always produces a verdict. Verifier failures count as a fail.
func (g *QualityGate) Check(ctx context.Context, merged string, sources []string) Verdict {
	if strings.TrimSpace(merged) == "" {
		return Verdict{Reason: "empty output"}
	}
	if g.local != nil {
		if issue := g.local(merged); issue != "" {
			return Verdict{Reason: issue}
		}
	}
	if g.verifier == nil {
		return Verdict{Passed: true}
	}
	ok, reason, err := g.verifier.Verify(ctx, merged, sources)
	if err != nil {
		klog.Warningf("quality verifier failed, treating as fail: %v", err)
		return Verdict{Reason: "verifier error: " + err.Error()}
	}
	if !ok && reason == "" {
		reason = "verifier rejected merged text"
	}
	return Verdict{Passed: ok, Reason: reason}
}
