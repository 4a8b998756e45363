package depth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// Collaborators are the per-stage external parts the orchestrator drives.
// Referee is only needed at depth 4, Polisher from depth 2 up.
type Collaborators struct {
	Generator Generator
	Referee   Referee
	Polisher  Polisher
	Verifier  Verifier
	Trimmer   Trimmer
	Local     LocalCheck
}

// Orchestrator 负责多稿生成、淘汰赛、合并、质量检查与回退的完整流程。
type Orchestrator struct {
	collab      Collaborators
	cache       Cache
	gate        *QualityGate
	selector    BaseSelector
	callTimeout time.Duration
	workers     int
	refresh     bool
}

type Option func(*Orchestrator)

// WithCallTimeout bounds every external call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithDraftWorkers generates drafts concurrently on a pool of n workers.
func WithDraftWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithBaseSelector replaces the depth-3 base nomination rule.
func WithBaseSelector(s BaseSelector) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.selector = s
		}
	}
}

// WithRefresh skips cache lookups; fresh drafts overwrite existing entries.
func WithRefresh(refresh bool) Option {
	return func(o *Orchestrator) { o.refresh = refresh }
}

func NewOrchestrator(collab Collaborators, cache Cache, opts ...Option) (*Orchestrator, error) {
	if collab.Generator == nil {
		return nil, fmt.Errorf("%w: draft generator is required", ErrMissingCollaborator)
	}
	if cache == nil {
		return nil, errors.New("draft cache is required")
	}
	o := &Orchestrator{
		collab:   collab,
		cache:    cache,
		gate:     NewQualityGate(collab.Verifier, collab.Local),
		selector: FirstBase{},
		workers:  1,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type run struct {
	cfg     Config
	subject Subject
	result  Result
}

func (r *run) enter(s State) {
	r.result.States = append(r.result.States, s)
	klog.V(2).Infof("[depth] %s d%d -> %s", r.subject, r.cfg.Level, s)
}

// Run produces the final text for subject at the requested depth.
// Quality failures degrade to a fallback draft; only invalid input and
// failed external calls are returned as errors.
func (o *Orchestrator) Run(ctx context.Context, subject Subject, inputs Inputs, level int) (Result, error) {
	cfg, err := NewConfig(level)
	if err != nil {
		return Result{}, err
	}
	if cfg.NeedsTournament && o.collab.Referee == nil {
		return Result{}, fmt.Errorf("%w: depth %d needs a referee", ErrMissingCollaborator, level)
	}
	if cfg.NeedsPolish && o.collab.Polisher == nil {
		return Result{}, fmt.Errorf("%w: depth %d needs a polisher", ErrMissingCollaborator, level)
	}

	r := &run{cfg: cfg, subject: subject, result: Result{DepthUsed: level}}

	r.enter(StateDrafting)
	drafts, err := o.draft(ctx, r, inputs)
	if err != nil {
		return Result{}, err
	}
	r.result.Drafts = drafts

	if !cfg.NeedsPolish {
		r.result.Text = drafts[0].Content
		r.enter(StateDone)
		return r.result, nil
	}

	survivors := drafts
	best := drafts[0]
	if cfg.NeedsTournament {
		r.enter(StateTournament)
		winners, err := o.tournament(ctx, r, drafts)
		if err != nil {
			return Result{}, err
		}
		survivors = winners
		best = winners[0]
	}

	r.enter(StatePolish)
	req := PolishRequest{
		Subject:    subject,
		Drafts:     contents(survivors),
		BaseIndex:  -1,
		Depth:      level,
		Constraint: NoNewFacts,
	}
	if level == 3 {
		req.BaseIndex = o.selectBase(survivors)
	}
	merged, err := o.callText(ctx, func(c context.Context) (string, error) {
		return o.collab.Polisher.Merge(c, req)
	})
	if err != nil {
		return Result{}, stageErr(PhasePolish, true, err)
	}

	r.enter(StateQualityCheck)
	verdict := o.checkQuality(ctx, merged, req.Drafts)
	if err := ctx.Err(); err != nil {
		return Result{}, stageErr(PhaseQuality, true, err)
	}
	if verdict.Passed {
		r.result.Text = merged
		r.enter(StateDone)
		return r.result, nil
	}

	r.enter(StateFallback)
	klog.Warningf("[depth] %s quality check failed (%s); falling back to %s", subject, verdict.Reason, best.Label())
	r.result.Text = best.Content
	r.result.FallbackTriggered = true
	r.result.FallbackReason = verdict.Reason
	r.enter(StateDone)
	return r.result, nil
}

func (o *Orchestrator) draft(ctx context.Context, r *run, inputs Inputs) ([]Draft, error) {
	n := r.cfg.DraftCount
	drafts := make([]Draft, n)
	errs := make([]error, n)

	if o.workers <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			drafts[i], errs[i] = o.draftOne(ctx, r, i, inputs)
			if errs[i] != nil {
				return nil, stageErr(PhaseDrafting, false, errs[i])
			}
		}
	} else {
		pool, err := ants.NewPool(min(o.workers, n))
		if err != nil {
			return nil, stageErr(PhaseDrafting, false, fmt.Errorf("draft worker pool: %w", err))
		}
		defer pool.Release()

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				drafts[i], errs[i] = o.draftOne(ctx, r, i, inputs)
			}); err != nil {
				wg.Done()
				errs[i] = err
			}
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, stageErr(PhaseDrafting, false, err)
			}
		}
	}

	for _, d := range drafts {
		if d.Source == SourceCached {
			r.result.CacheHits++
		} else {
			r.result.Generated++
		}
	}
	return drafts, nil
}

func (o *Orchestrator) draftOne(ctx context.Context, r *run, index int, inputs Inputs) (Draft, error) {
	level := r.cfg.Level
	fp, err := BuildFingerprint(r.subject, level, index, inputs.SizeHint, inputs.Payload)
	if err != nil {
		return Draft{}, err
	}
	d := Draft{Subject: r.subject, Index: index, Depth: level, Fingerprint: fp}

	if !o.refresh {
		if content, ok := o.cache.Lookup(fp); ok && strings.TrimSpace(content) == "" {
			klog.Warningf("[depth] %s cached draft %d (%s) is empty; regenerating", r.subject, index+1, fp)
		} else if ok {
			klog.V(2).Infof("[depth] %s loaded cached draft %d/%d", r.subject, index+1, level)
			d.Content = content
			d.Source = SourceCached
			return d, nil
		}
	}

	klog.V(2).Infof("[depth] %s generating draft %d/%d", r.subject, index+1, level)
	content, err := o.generate(ctx, inputs)
	if err != nil {
		return Draft{}, fmt.Errorf("draft %d: %w", index+1, err)
	}
	if strings.TrimSpace(content) == "" {
		return Draft{}, fmt.Errorf("draft %d: generator returned empty text", index+1)
	}
	if err := o.cache.Store(fp, content); err != nil {
		klog.Warningf("[depth] %s could not cache draft %d (%s): %v", r.subject, index+1, fp, err)
	}
	d.Content = content
	d.Source = SourceGenerated
	return d, nil
}

// generate retries exactly once with shrunk inputs on a context window overflow.
func (o *Orchestrator) generate(ctx context.Context, inputs Inputs) (string, error) {
	content, err := o.callText(ctx, func(c context.Context) (string, error) {
		return o.collab.Generator.Generate(c, inputs, inputs.SizeHint)
	})
	if err == nil || !errors.Is(err, ErrContextWindowExceeded) {
		return content, err
	}
	if o.collab.Trimmer == nil {
		return "", err
	}
	klog.Warningf("[depth] context window exceeded; retrying once with reduced input")
	shrunk, serr := o.collab.Trimmer.Shrink(inputs)
	if serr != nil {
		return "", fmt.Errorf("shrink inputs after %v: %w", err, serr)
	}
	return o.callText(ctx, func(c context.Context) (string, error) {
		return o.collab.Generator.Generate(c, shrunk, shrunk.SizeHint)
	})
}

func (o *Orchestrator) tournament(ctx context.Context, r *run, drafts []Draft) ([]Draft, error) {
	brackets, err := BuildBrackets(drafts)
	if err != nil {
		return nil, stageErr(PhaseTournament, false, err)
	}
	winners := make([]Draft, 0, len(brackets))
	for i, b := range brackets {
		resp, err := o.callText(ctx, func(c context.Context) (string, error) {
			return o.collab.Referee.Compare(c,
				Candidate{Label: b.Left.Label(), Content: b.Left.Content},
				Candidate{Label: b.Right.Label(), Content: b.Right.Content})
		})
		if err != nil {
			return nil, stageErr(PhaseTournament, true, fmt.Errorf("bracket %d: %w", i+1, err))
		}
		res := ParseRefereeWinner(resp, b)
		if res.Ambiguous {
			klog.Warningf("[depth] %s bracket %d: %s", r.subject, i+1, res.Reason)
			r.result.Ambiguities = append(r.result.Ambiguities, res.Reason)
		}
		klog.V(2).Infof("[depth] %s bracket %d winner: %s", r.subject, i+1, res.Winner.Label())
		winners = append(winners, res.Winner)
	}
	return winners, nil
}

func (o *Orchestrator) selectBase(drafts []Draft) int {
	idx := o.selector.SelectBase(drafts)
	if idx < 0 || idx >= len(drafts) {
		klog.Warningf("[depth] base selector returned %d for %d drafts; using first draft", idx, len(drafts))
		return 0
	}
	return idx
}

func (o *Orchestrator) checkQuality(ctx context.Context, merged string, sources []string) Verdict {
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	return o.gate.Check(ctx, merged, sources)
}

// callText runs one external call under the call timeout. A cancelled
// context fails the call even when the collaborator returned text.
func (o *Orchestrator) callText(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.callTimeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return out, nil
}

func contents(drafts []Draft) []string {
	out := make([]string, len(drafts))
	for i, d := range drafts {
		out[i] = d.Content
	}
	return out
}
