package generator

import (
	"fmt"
	"sort"
)

// SizeUnit 是阶段目标长度的单位。
type SizeUnit string

const (
	UnitWords SizeUnit = "words"
	UnitChars SizeUnit = "chars"
)

// Stage describes one content stage: what it writes and how its output is checked.
type Stage struct {
	Name    string
	Title   string
	Persona string
	Format  []string
	Unit    SizeUnit
	Target  int
	// Normalize 清理模型输出（去 XML 包装、统一格式）。
	Normalize func(string) string
	// Check 返回非空字符串表示结构性问题。
	Check func(string) string
}

// WithTarget returns a copy of the stage with a different size target.
func (s Stage) WithTarget(target int) Stage {
	if target > 0 {
		s.Target = target
	}
	return s
}

var stages = map[string]Stage{
	"outline": {
		Name:    "outline",
		Title:   "daily activity outline",
		Persona: "You turn raw GitHub activity into a factual outline for later writing.",
		Format: []string{
			"Output Markdown bullet points grouped by repository.",
			"Every bullet must be traceable to the provided activity data.",
		},
		Unit:      UnitWords,
		Target:    500,
		Normalize: NormalizeMarkdown,
		Check:     GenericQualityIssue,
	},
	"blog": {
		Name:    "blog",
		Title:   "blog post",
		Persona: "You are a developer writing an honest weekly engineering blog post.",
		Format: []string{
			"Output Markdown with one H1 title.",
			"Open with a short summary paragraph.",
			"Only describe work that appears in the provided data.",
		},
		Unit:      UnitWords,
		Target:    900,
		Normalize: NormalizeMarkdown,
		Check:     BlogQualityIssue,
	},
	"bluesky": {
		Name:    "bluesky",
		Title:   "Bluesky post",
		Persona: "You write one short, plain-text social post summarizing a blog post.",
		Format: []string{
			"Output a single line of plain text.",
			"No Markdown, no hashtags spam, no quotes around the post.",
		},
		Unit:      UnitChars,
		Target:    300,
		Normalize: NormalizeBluesky,
		Check:     GenericQualityIssue,
	},
	"podcast": {
		Name:    "podcast",
		Title:   "multi-speaker podcast script",
		Persona: "You write a conversational podcast script between hosts discussing recent development work.",
		Format: []string{
			"Format every line as LABEL: text, for example HOST: or GUEST:.",
			"Do not add stage directions or sound effects.",
		},
		Unit:      UnitWords,
		Target:    700,
		Normalize: NormalizePodcast,
		Check:     PodcastQualityIssue,
	},
}

// StageByName looks up one of the built-in stages.
func StageByName(name string) (Stage, error) {
	s, ok := stages[name]
	if !ok {
		return Stage{}, fmt.Errorf("unknown stage %q (known: %v)", name, StageNames())
	}
	return s, nil
}

func StageNames() []string {
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
