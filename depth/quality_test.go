package depth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityGateEmptyFailsWithoutVerifier(t *testing.T) {
	v := &fakeVerifier{pass: true}
	g := NewQualityGate(v, nil)
	verdict := g.Check(context.Background(), "   ", []string{"a"})
	assert.False(t, verdict.Passed)
	assert.Equal(t, "empty output", verdict.Reason)
	assert.Equal(t, 0, v.calls)
}

func TestQualityGateLocalIssue(t *testing.T) {
	v := &fakeVerifier{pass: true}
	g := NewQualityGate(v, func(text string) string {
		if text == "{}" {
			return "llm returned structured error/object text"
		}
		return ""
	})
	verdict := g.Check(context.Background(), "{}", nil)
	assert.False(t, verdict.Passed)
	assert.Equal(t, 0, v.calls)
}

func TestQualityGateVerifierDecides(t *testing.T) {
	pass := NewQualityGate(&fakeVerifier{pass: true}, nil).Check(context.Background(), "merged", []string{"a", "b"})
	assert.True(t, pass.Passed)

	fail := NewQualityGate(&fakeVerifier{pass: false}, nil).Check(context.Background(), "merged", []string{"a", "b"})
	assert.False(t, fail.Passed)
	assert.NotEmpty(t, fail.Reason)

	withReason := NewQualityGate(&fakeVerifier{pass: false, reason: "invented a release"}, nil).Check(context.Background(), "merged", nil)
	assert.Equal(t, "invented a release", withReason.Reason)
}

func TestQualityGateVerifierErrorIsFailSafe(t *testing.T) {
	g := NewQualityGate(&fakeVerifier{pass: true, err: errors.New("connection reset")}, nil)
	verdict := g.Check(context.Background(), "merged", nil)
	assert.False(t, verdict.Passed)
	assert.Contains(t, verdict.Reason, "connection reset")
}

func TestQualityGateNilVerifierUsesLocalOnly(t *testing.T) {
	verdict := NewQualityGate(nil, nil).Check(context.Background(), "merged", nil)
	assert.True(t, verdict.Passed)
}
