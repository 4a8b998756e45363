package depth

import (
	"context"
	"fmt"
)

// Subject 标识一次生成的对象：阶段名 + 逻辑单元（例如 blog/owner/repo、podcast/global）。
type Subject struct {
	Stage string `json:"stage"`
	Unit  string `json:"unit"`
}

func (s Subject) String() string {
	return s.Stage + "/" + s.Unit
}

// Inputs 是驱动生成的上游输入。Payload 参与指纹计算。
type Inputs struct {
	Payload  map[string]any
	SizeHint int
}

// Source 标记草稿来源。
type Source string

const (
	SourceGenerated Source = "generated"
	SourceCached    Source = "cached"
)

// Draft is one independently generated candidate text.
type Draft struct {
	Subject     Subject     `json:"subject"`
	Index       int         `json:"draft_index"`
	Depth       int         `json:"depth"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Content     string      `json:"-"`
	Source      Source      `json:"source"`
}

// Label is the 1-based name the referee sees ("Draft 3").
func (d Draft) Label() string {
	return fmt.Sprintf("Draft %d", d.Index+1)
}

// Candidate 是交给裁判比较的一份稿件。
type Candidate struct {
	Label   string
	Content string
}

// NoNewFacts is the merge constraint handed to every Polisher call.
const NoNewFacts = "no new facts"

// PolishRequest 描述一次合并。BaseIndex 为 -1 表示没有指定底稿。
type PolishRequest struct {
	Subject    Subject
	Drafts     []string
	BaseIndex  int
	Depth      int
	Constraint string
}

// State is a step of the orchestrator state machine.
type State string

const (
	StateDrafting     State = "DRAFTING"
	StateTournament   State = "TOURNAMENT"
	StatePolish       State = "POLISH"
	StateQualityCheck State = "QUALITY_CHECK"
	StateFallback     State = "FALLBACK"
	StateDone         State = "DONE"
)

// Result is what a run hands back to the calling stage.
type Result struct {
	Text              string   `json:"text"`
	DepthUsed         int      `json:"depth_used"`
	FallbackTriggered bool     `json:"fallback_triggered"`
	FallbackReason    string   `json:"fallback_reason,omitempty"`
	States            []State  `json:"states"`
	Drafts            []Draft  `json:"drafts"`
	CacheHits         int      `json:"cache_hits"`
	Generated         int      `json:"generated"`
	Ambiguities       []string `json:"ambiguities,omitempty"`
}

// Generator 产出一份独立草稿；输入超出上下文窗口时返回包装了 ErrContextWindowExceeded 的错误。
type Generator interface {
	Generate(ctx context.Context, inputs Inputs, sizeHint int) (string, error)
}

// Referee compares two candidates and answers with a <winner> tag.
type Referee interface {
	Compare(ctx context.Context, a, b Candidate) (string, error)
}

// Polisher merges drafts into one candidate under the no-new-facts constraint.
type Polisher interface {
	Merge(ctx context.Context, req PolishRequest) (string, error)
}

// Verifier checks a merged text against its sources.
type Verifier interface {
	Verify(ctx context.Context, merged string, sources []string) (bool, string, error)
}

// Trimmer shrinks inputs after a context window overflow.
type Trimmer interface {
	Shrink(inputs Inputs) (Inputs, error)
}

// BaseSelector nominates the base draft for a depth-3 merge.
type BaseSelector interface {
	SelectBase(drafts []Draft) int
}

// FirstBase always nominates the first draft.
type FirstBase struct{}

func (FirstBase) SelectBase(_ []Draft) int { return 0 }

// Cache is the persistent fingerprint -> text store.
type Cache interface {
	Lookup(fp Fingerprint) (string, bool)
	Store(fp Fingerprint, content string) error
}
