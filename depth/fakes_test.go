package depth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

type memCache struct {
	mu     sync.Mutex
	m      map[Fingerprint]string
	stores int
}

func newMemCache() *memCache {
	return &memCache{m: make(map[Fingerprint]string)}
}

func (c *memCache) Lookup(fp Fingerprint) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[fp]
	return v, ok
}

func (c *memCache) Store(fp Fingerprint, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fp] = content
	c.stores++
	return nil
}

type fakeGenerator struct {
	calls int32
	fn    func(n int32, inputs Inputs) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, inputs Inputs, _ int) (string, error) {
	n := atomic.AddInt32(&g.calls, 1)
	if g.fn != nil {
		return g.fn(n, inputs)
	}
	return fmt.Sprintf("draft_%d", n), nil
}

func (g *fakeGenerator) count() int { return int(atomic.LoadInt32(&g.calls)) }

type fakeReferee struct {
	calls [][2]Candidate
	fn    func(a, b Candidate) (string, error)
}

func (r *fakeReferee) Compare(_ context.Context, a, b Candidate) (string, error) {
	r.calls = append(r.calls, [2]Candidate{a, b})
	if r.fn != nil {
		return r.fn(a, b)
	}
	return "<winner>" + a.Label + "</winner><reason>test</reason>", nil
}

type fakePolisher struct {
	calls []PolishRequest
	err   error
}

func (p *fakePolisher) Merge(_ context.Context, req PolishRequest) (string, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", p.err
	}
	return "polished_" + strings.Join(req.Drafts, "_"), nil
}

type fakeVerifier struct {
	calls  int
	pass   bool
	reason string
	err    error
}

func (v *fakeVerifier) Verify(_ context.Context, _ string, _ []string) (bool, string, error) {
	v.calls++
	return v.pass, v.reason, v.err
}

type fakeTrimmer struct {
	calls int
}

func (t *fakeTrimmer) Shrink(inputs Inputs) (Inputs, error) {
	t.calls++
	return Inputs{Payload: map[string]any{"shrunk": true}, SizeHint: inputs.SizeHint / 2}, nil
}
