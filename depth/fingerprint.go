package depth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Fingerprint is the content-addressed cache key of one draft slot.
type Fingerprint string

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// Slug builds a filesystem-safe name; owner/repo becomes owner__repo.
func Slug(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "/", "__")
	s = strings.Trim(slugRe.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "unknown"
	}
	return s
}

type fingerprintPayload struct {
	Stage      string         `json:"stage"`
	Unit       string         `json:"unit"`
	Depth      int            `json:"depth"`
	DraftIndex int            `json:"draft_index"`
	SizeHint   int            `json:"size_hint"`
	Payload    map[string]any `json:"payload"`
}

// BuildFingerprint hashes subject, depth, draft index, size hint and payload.
// The size hint goes into the draft prompt, so it is part of the key.
// encoding/json 对 map 键排序，嵌套的 map 也一样，所以构造顺序不影响结果。
func BuildFingerprint(subject Subject, depth, draftIndex, sizeHint int, payload map[string]any) (Fingerprint, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(fingerprintPayload{
		Stage:      subject.Stage,
		Unit:       subject.Unit,
		Depth:      depth,
		DraftIndex: draftIndex,
		SizeHint:   sizeHint,
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize payload for %s: %w", subject, err)
	}
	sum := sha256.Sum256(encoded)
	hash := hex.EncodeToString(sum[:])[:16]
	fp := fmt.Sprintf("%s_d%d_i%d_%s", SubjectKey(subject), depth, draftIndex, hash)
	return Fingerprint(fp), nil
}

// SubjectKey is the "<stage>-<unit>" slug that prefixes every fingerprint of subject.
func SubjectKey(subject Subject) string {
	return Slug(subject.Stage) + "-" + Slug(subject.Unit)
}

// 后缀格式固定，从右侧锚定即可无歧义地切出 subject 部分
var fingerprintRe = regexp.MustCompile(`^(.+)_d[0-9]+_i[0-9]+_[0-9a-f]{16}$`)

// SubjectKey returns the subject part of fp, or "" when fp is not well formed.
func (fp Fingerprint) SubjectKey() string {
	m := fingerprintRe.FindStringSubmatch(string(fp))
	if m == nil {
		return ""
	}
	return m[1]
}

// BelongsTo reports whether fp was built for stage, and for unit when unit
// is not empty. Units are compared whole, so "a" never matches "a/b".
func (fp Fingerprint) BelongsTo(stage, unit string) bool {
	key := fp.SubjectKey()
	if key == "" {
		return false
	}
	if unit != "" {
		return key == SubjectKey(Subject{Stage: stage, Unit: unit})
	}
	return strings.HasPrefix(key, Slug(stage)+"-")
}

// BuildDepthCachePath composes the on-disk location of a cache entry.
func BuildDepthCachePath(baseDir string, fp Fingerprint) string {
	return filepath.Join(baseDir, string(fp)+".json")
}
