package depth

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFingerprintDeterministic(t *testing.T) {
	subject := Subject{Stage: "blog", Unit: "vosslab/repoX"}
	payload := map[string]any{"user": "vosslab", "totals": map[string]any{"commits": 12, "prs": 3}}

	first, err := BuildFingerprint(subject, 2, 1, 800, payload)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := BuildFingerprint(subject, 2, 1, 800, payload)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.True(t, strings.HasPrefix(string(first), "blog-vosslab__repox_d2_i1_"), string(first))
	assert.Len(t, strings.TrimPrefix(string(first), "blog-vosslab__repox_d2_i1_"), 16)
}

func TestBuildFingerprintIgnoresConstructionOrder(t *testing.T) {
	subject := Subject{Stage: "podcast", Unit: "global"}

	a := map[string]any{}
	a["window_start"] = "2026-10-01"
	a["window_end"] = "2026-10-08"
	a["repos"] = []any{map[string]any{"name": "x", "stars": 2}}

	b := map[string]any{}
	b["repos"] = []any{map[string]any{"stars": 2, "name": "x"}}
	b["window_end"] = "2026-10-08"
	b["window_start"] = "2026-10-01"

	fa, err := BuildFingerprint(subject, 4, 0, 800, a)
	require.NoError(t, err)
	fb, err := BuildFingerprint(subject, 4, 0, 800, b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
}

func TestBuildFingerprintChangesWithEveryField(t *testing.T) {
	subject := Subject{Stage: "blog", Unit: "global"}
	payload := map[string]any{"user": "vosslab"}
	base, err := BuildFingerprint(subject, 3, 0, 800, payload)
	require.NoError(t, err)

	variants := []struct {
		name    string
		subject Subject
		depth   int
		index   int
		size    int
		payload map[string]any
	}{
		{"stage", Subject{Stage: "bluesky", Unit: "global"}, 3, 0, 800, payload},
		{"unit", Subject{Stage: "blog", Unit: "other"}, 3, 0, 800, payload},
		{"depth", subject, 4, 0, 800, payload},
		{"index", subject, 3, 1, 800, payload},
		{"size hint", subject, 3, 0, 100, payload},
		{"payload", subject, 3, 0, 800, map[string]any{"user": "someone"}},
	}
	for _, v := range variants {
		fp, err := BuildFingerprint(v.subject, v.depth, v.index, v.size, v.payload)
		require.NoError(t, err)
		assert.NotEqual(t, base, fp, v.name)
	}
}

func TestBuildFingerprintNilPayloadMatchesEmpty(t *testing.T) {
	subject := Subject{Stage: "outline", Unit: "global"}
	a, err := BuildFingerprint(subject, 1, 0, 800, nil)
	require.NoError(t, err)
	b, err := BuildFingerprint(subject, 1, 0, 800, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildFingerprintUnserializablePayload(t *testing.T) {
	_, err := BuildFingerprint(Subject{Stage: "blog", Unit: "x"}, 1, 0, 800, map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestBuildDepthCachePath(t *testing.T) {
	got := BuildDepthCachePath("/tmp/depth_cache", Fingerprint("blog-x_d1_i0_0123456789abcdef"))
	assert.Equal(t, filepath.Join("/tmp/depth_cache", "blog-x_d1_i0_0123456789abcdef.json"), got)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "vosslab__repo-x", Slug("VossLab/Repo X"))
	assert.Equal(t, "unknown", Slug("  "))
	assert.Equal(t, "global", Slug("global"))
	assert.Equal(t, "a.b_c-d", Slug("a.b_c-d"))
}

func TestFingerprintBelongsTo(t *testing.T) {
	fp := func(unit string) Fingerprint {
		f, err := BuildFingerprint(Subject{Stage: "blog", Unit: unit}, 2, 0, 800, nil)
		require.NoError(t, err)
		return f
	}
	a, ab, adx := fp("a"), fp("a/b"), fp("a_dx")

	assert.Equal(t, "blog-a", a.SubjectKey())
	assert.Equal(t, "blog-a__b", ab.SubjectKey())
	assert.True(t, a.BelongsTo("blog", "a"))
	assert.False(t, ab.BelongsTo("blog", "a"))
	assert.False(t, adx.BelongsTo("blog", "a"))
	assert.True(t, ab.BelongsTo("blog", "a/b"))
	assert.True(t, ab.BelongsTo("blog", ""))
	assert.False(t, ab.BelongsTo("bluesky", ""))

	assert.Empty(t, Fingerprint("not-a-fingerprint").SubjectKey())
	assert.False(t, Fingerprint("blog-a_d1_i0_xyz").BelongsTo("blog", ""))
}
