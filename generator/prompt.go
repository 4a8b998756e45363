package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"auto_content_pipeline/depth"
)

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	Purpose string
	System  string
	User    string
	History []Message
}

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

const (
	PurposeDraft   = "draft"
	PurposeReferee = "referee"
	PurposePolish  = "polish"
	PurposeVerify  = "verify"
)

func sizeLine(stage Stage, sizeHint int) string {
	target := stage.Target
	if sizeHint > 0 {
		target = sizeHint
	}
	if stage.Unit == UnitChars {
		return fmt.Sprintf("- Stay under %d characters.\n", target)
	}
	return fmt.Sprintf("- Target about %d words (±15%%).\n", target)
}

// BuildDraftPrompt 生成单份草稿的提示词，输入数据以 JSON 形式附在用户消息里。
func BuildDraftPrompt(stage Stage, payload map[string]any, sizeHint int) (Prompt, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("encode %s inputs: %w", stage.Name, err)
	}

	var sb strings.Builder
	sb.WriteString(stage.Persona)
	sb.WriteString("\nRequirements:\n")
	sb.WriteString(sizeLine(stage, sizeHint))
	for _, f := range stage.Format {
		sb.WriteString(fmt.Sprintf("- %s\n", f))
	}
	sb.WriteString("- Output only the content, no explanations.\n")

	user := fmt.Sprintf("Write the %s from this data:\n\n%s", stage.Title, data)
	return Prompt{Purpose: PurposeDraft, System: sb.String(), User: user}, nil
}

// BuildRefereePrompt asks for a <winner> tag naming one of the two labels.
func BuildRefereePrompt(stage Stage, a, b depth.Candidate) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You judge two candidate versions of a %s.\n", stage.Title))
	sb.WriteString("Prefer accuracy to the source data, then clarity, then fit to the length target.\n")
	sb.WriteString(fmt.Sprintf("Answer with <winner>%s</winner> or <winner>%s</winner>, then <reason>one sentence</reason>.\n", a.Label, b.Label))

	user := fmt.Sprintf("<%[1]s>\n%[2]s\n</%[1]s>\n\n<%[3]s>\n%[4]s\n</%[3]s>",
		tagName(a.Label), a.Content, tagName(b.Label), b.Content)
	return Prompt{Purpose: PurposeReferee, System: sb.String(), User: user}
}

// BuildPolishPrompt 合并多份草稿；BaseIndex >= 0 时以该稿为底稿，仅借用其它稿的要素。
func BuildPolishPrompt(stage Stage, req depth.PolishRequest) Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You merge several drafts of a %s into one final version.\n", stage.Title))
	sb.WriteString("Rules:\n")
	sb.WriteString(fmt.Sprintf("- Constraint: %s. Use only facts present in at least one draft.\n", req.Constraint))
	if req.BaseIndex >= 0 && req.BaseIndex < len(req.Drafts) {
		sb.WriteString(fmt.Sprintf("- Use Draft %d as the base and borrow the strongest elements from the others.\n", req.BaseIndex+1))
	} else {
		sb.WriteString("- Combine the strongest parts of every draft.\n")
	}
	sb.WriteString(sizeLine(stage, 0))
	for _, f := range stage.Format {
		sb.WriteString(fmt.Sprintf("- %s\n", f))
	}
	sb.WriteString("- Output only the merged content.\n")

	var user strings.Builder
	for i, d := range req.Drafts {
		label := fmt.Sprintf("draft_%d", i+1)
		user.WriteString(fmt.Sprintf("<%s>\n%s\n</%s>\n\n", label, d, label))
	}
	return Prompt{Purpose: PurposePolish, System: sb.String(), User: strings.TrimSpace(user.String())}
}

// BuildVerifyPrompt asks whether merged introduces facts absent from sources.
func BuildVerifyPrompt(merged string, sources []string) Prompt {
	system := "You check a merged text against its source drafts.\n" +
		"Fail it if it states any fact, number, name or event that is not in at least one source.\n" +
		"Answer with <verdict>pass</verdict> or <verdict>fail</verdict>, then <reason>one sentence</reason>."

	var user strings.Builder
	for i, s := range sources {
		user.WriteString(fmt.Sprintf("<source_%d>\n%s\n</source_%d>\n\n", i+1, s, i+1))
	}
	user.WriteString(fmt.Sprintf("<merged>\n%s\n</merged>", merged))
	return Prompt{Purpose: PurposeVerify, System: system, User: user.String()}
}

func tagName(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, " ", "_"))
}
