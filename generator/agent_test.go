package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_content_pipeline/depth"
)

type scriptedLLM struct {
	prompts []Prompt
	replies map[string]string
	err     error
}

func (s *scriptedLLM) Complete(_ context.Context, p Prompt) (string, error) {
	s.prompts = append(s.prompts, p)
	if s.err != nil {
		return "", s.err
	}
	return s.replies[p.Purpose], nil
}

func newTestAgent(t *testing.T, stageName string, llm LLMClient) *Agent {
	t.Helper()
	stage, err := StageByName(stageName)
	require.NoError(t, err)
	a, err := NewAgent(llm, stage)
	require.NoError(t, err)
	return a
}

func TestNewAgentRequiresDeps(t *testing.T) {
	_, err := NewAgent(nil, Stage{Name: "blog"})
	assert.Error(t, err)
	_, err = NewAgent(MockLLM{}, Stage{})
	assert.Error(t, err)
}

func TestAgentGenerateBuildsDraftPrompt(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{PurposeDraft: "<blog_post>\n# Week 41\n\nBody\n</blog_post>"}}
	a := newTestAgent(t, "blog", llm)

	out, err := a.Generate(context.Background(), depth.Inputs{Payload: map[string]any{"repo": "vosslab/repoX"}}, 650)
	require.NoError(t, err)
	assert.Equal(t, "# Week 41\n\nBody", out)

	require.Len(t, llm.prompts, 1)
	p := llm.prompts[0]
	assert.Equal(t, PurposeDraft, p.Purpose)
	assert.Contains(t, p.System, "about 650 words")
	assert.Contains(t, p.User, `"repo": "vosslab/repoX"`)
}

func TestAgentGenerateEmptyIsError(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{PurposeDraft: "  "}}
	a := newTestAgent(t, "outline", llm)
	_, err := a.Generate(context.Background(), depth.Inputs{}, 0)
	assert.Error(t, err)
}

func TestAgentComparePassesLabels(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{PurposeReferee: "<winner>Draft 2</winner>"}}
	a := newTestAgent(t, "bluesky", llm)

	raw, err := a.Compare(context.Background(),
		depth.Candidate{Label: "Draft 1", Content: "first"},
		depth.Candidate{Label: "Draft 2", Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, "<winner>Draft 2</winner>", raw)

	p := llm.prompts[0]
	assert.Contains(t, p.System, "<winner>Draft 1</winner> or <winner>Draft 2</winner>")
	assert.Contains(t, p.User, "<draft_1>\nfirst\n</draft_1>")
	assert.Contains(t, p.User, "<draft_2>\nsecond\n</draft_2>")
}

func TestAgentMergeCarriesConstraintAndBase(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{PurposePolish: "HOST: merged line"}}
	a := newTestAgent(t, "podcast", llm)

	out, err := a.Merge(context.Background(), depth.PolishRequest{
		Drafts:     []string{"HOST: a", "HOST: b", "HOST: c"},
		BaseIndex:  1,
		Depth:      3,
		Constraint: depth.NoNewFacts,
	})
	require.NoError(t, err)
	assert.Equal(t, "HOST: merged line", out)

	p := llm.prompts[0]
	assert.Contains(t, p.System, "no new facts")
	assert.Contains(t, p.System, "Use Draft 2 as the base")
	assert.Contains(t, p.User, "<draft_3>\nHOST: c\n</draft_3>")

	_, err = a.Merge(context.Background(), depth.PolishRequest{})
	assert.Error(t, err)
}

func TestAgentVerify(t *testing.T) {
	llm := &scriptedLLM{replies: map[string]string{PurposeVerify: "<verdict>FAIL</verdict><reason>mentions a v2 release</reason>"}}
	a := newTestAgent(t, "blog", llm)
	ok, reason, err := a.Verify(context.Background(), "merged", []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "mentions a v2 release", reason)
	assert.Contains(t, llm.prompts[0].User, "<source_2>\nb\n</source_2>")

	failing := newTestAgent(t, "blog", &scriptedLLM{err: errors.New("503")})
	_, _, err = failing.Verify(context.Background(), "merged", nil)
	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	ok, _ := ParseVerdict("<verdict> pass </verdict>")
	assert.True(t, ok)

	ok, reason := ParseVerdict("looks good to me")
	assert.False(t, ok)
	assert.Equal(t, "unparseable verifier output", reason)

	ok, reason = ParseVerdict("<verdict>maybe</verdict>")
	assert.False(t, ok)
	assert.Contains(t, reason, "maybe")
}

func TestIsContextWindowError(t *testing.T) {
	assert.True(t, IsContextWindowError(errors.New("Apple LLM context window exceeded (prompt ~90000 chars)")))
	assert.True(t, IsContextWindowError(errors.New("This model's maximum context length is 8192 tokens")))
	assert.False(t, IsContextWindowError(errors.New("rate limited")))
	assert.False(t, IsContextWindowError(nil))

	wrapped := classifyError(fmt.Errorf("ollama: %w", errors.New("exceeded model context window size")))
	assert.ErrorIs(t, wrapped, depth.ErrContextWindowExceeded)
	assert.NotErrorIs(t, classifyError(errors.New("rate limited")), depth.ErrContextWindowExceeded)
}

func TestAgentWithMockLLMRunsEveryDepth(t *testing.T) {
	for _, name := range StageNames() {
		a := newTestAgent(t, name, MockLLM{})
		o, err := depth.NewOrchestrator(a.Collaborators(PayloadTrimmer{Ratio: 0.5, MinChars: 10}), newMapCache())
		require.NoError(t, err)
		for level := 1; level <= 4; level++ {
			res, err := o.Run(context.Background(), depth.Subject{Stage: name, Unit: "global"},
				depth.Inputs{Payload: map[string]any{"user": "vosslab"}}, level)
			require.NoError(t, err, "%s d%d", name, level)
			assert.NotEmpty(t, res.Text)
			assert.False(t, res.FallbackTriggered, "%s d%d: %s", name, level, res.FallbackReason)
		}
	}
}

type mapCache map[depth.Fingerprint]string

func newMapCache() mapCache { return mapCache{} }

func (m mapCache) Lookup(fp depth.Fingerprint) (string, bool) {
	v, ok := m[fp]
	return v, ok
}

func (m mapCache) Store(fp depth.Fingerprint, content string) error {
	m[fp] = content
	return nil
}
