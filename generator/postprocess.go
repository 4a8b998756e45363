package generator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	xmlWrapperRe  = regexp.MustCompile(`(?s)^\s*<([A-Za-z_][\w-]*)>\s*(.*?)\s*</([A-Za-z_][\w-]*)>\s*$`)
	xmlTagRe      = regexp.MustCompile(`</?[A-Za-z_][\w-]*>`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	wordRe        = regexp.MustCompile(`[A-Za-z0-9']+`)
	speakerLineRe = regexp.MustCompile(`^\s*\**([A-Z][A-Z0-9_ ]{0,23})\**\s*:\s*(.+?)\s*$`)
	titleRe       = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// PostProcess 规范化模型输出，空结果视为错误。
func PostProcess(raw string, stage Stage) (string, error) {
	out := strings.TrimSpace(raw)
	if stage.Normalize != nil {
		out = stage.Normalize(out)
	}
	if out == "" {
		return "", errors.New("model returned empty output")
	}
	return out, nil
}

// StripXMLWrapper removes one matching outer tag such as <blog_post>...</blog_post>.
func StripXMLWrapper(s string) string {
	m := xmlWrapperRe.FindStringSubmatch(s)
	if m == nil || m[1] != m[3] {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(m[2])
}

func StripXMLTags(s string) string {
	return strings.TrimSpace(xmlTagRe.ReplaceAllString(s, ""))
}

func NormalizeMarkdown(s string) string {
	return StripXMLWrapper(s)
}

// NormalizeBluesky flattens output into one clean plain-text line.
func NormalizeBluesky(s string) string {
	clean := StripXMLTags(StripXMLWrapper(s))
	clean = strings.ReplaceAll(clean, "*", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(clean, " "))
}

// NormalizePodcast keeps only LABEL: text lines. Output without any speaker
// line is returned unchanged so the quality check can reject it.
func NormalizePodcast(s string) string {
	clean := StripXMLWrapper(s)
	var lines []string
	for _, line := range strings.Split(clean, "\n") {
		m := speakerLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.TrimSpace(m[1]), m[2]))
	}
	if len(lines) == 0 {
		return clean
	}
	return strings.Join(lines, "\n")
}

// GenericQualityIssue catches empty output and error payloads returned as text.
func GenericQualityIssue(s string) string {
	clean := strings.TrimSpace(s)
	if clean == "" {
		return "empty output"
	}
	lower := strings.ToLower(clean)
	if strings.Contains(lower, "error_code") || strings.Contains(lower, "generationerror") {
		return "llm returned error payload"
	}
	if strings.HasPrefix(clean, "{") && strings.HasSuffix(clean, "}") {
		return "llm returned structured error/object text"
	}
	return ""
}

func BlogQualityIssue(s string) string {
	if issue := GenericQualityIssue(s); issue != "" {
		return issue
	}
	if !HasHeading(s) {
		return "blog post has no heading"
	}
	return ""
}

func PodcastQualityIssue(s string) string {
	if issue := GenericQualityIssue(s); issue != "" {
		return issue
	}
	for _, line := range strings.Split(s, "\n") {
		if speakerLineRe.MatchString(line) {
			return ""
		}
	}
	return "podcast script has no speaker lines"
}

// HasHeading parses md with goldmark and reports whether it has any heading.
func HasHeading(md string) bool {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

func ExtractTitle(md string) string {
	m := titleRe.FindStringSubmatch(md)
	if len(m) >= 2 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// Digest 取首段（去掉标题行）；没有正文段落时截取全文前 limit 个字符。
func Digest(md string, limit int) string {
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return TrimToCharLimit(trimmed, limit)
	}
	return TrimToCharLimit(strings.Join(strings.Fields(md), " "), limit)
}

func CountWords(s string) int {
	return len(wordRe.FindAllString(s, -1))
}

// TrimToWordLimit cuts at whole whitespace-separated tokens and marks the cut with " ...".
func TrimToWordLimit(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if CountWords(s) <= limit {
		return strings.TrimSpace(s)
	}
	remaining := limit
	var kept []string
	for _, raw := range strings.Fields(s) {
		n := CountWords(raw)
		if n == 0 {
			continue
		}
		if n > remaining {
			break
		}
		kept = append(kept, raw)
		remaining -= n
	}
	if len(kept) == 0 {
		return ""
	}
	out := strings.Join(kept, " ")
	if !strings.HasSuffix(out, "...") {
		out += " ..."
	}
	return out
}

// TrimToCharLimit counts runes, not bytes, and ends a cut with "...".
func TrimToCharLimit(s string, limit int) string {
	clean := []rune(strings.TrimSpace(s))
	if limit <= 0 {
		return ""
	}
	if len(clean) <= limit {
		return string(clean)
	}
	if limit <= 3 {
		return string(clean[:limit])
	}
	return strings.TrimRight(string(clean[:limit-3]), " \t\n") + "..."
}
