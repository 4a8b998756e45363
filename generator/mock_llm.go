package generator

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// 输出只取决于提示词内容，同样的输入总是得到同样的结果。
type MockLLM struct{}

var draftBlockRe = regexp.MustCompile(`(?s)<draft_1>\s*(.*?)\s*</draft_1>`)

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	switch prompt.Purpose {
	case PurposeReferee:
		// 总是选第一位候选
		return "<winner>A</winner><reason>mock referee prefers the first candidate</reason>", nil
	case PurposeVerify:
		return "<verdict>pass</verdict><reason>mock verifier</reason>", nil
	case PurposePolish:
		if match := draftBlockRe.FindStringSubmatch(prompt.User); match != nil {
			return match[1], nil
		}
		return prompt.User, nil
	}

	h := fnv.New32a()
	h.Write([]byte(prompt.System + prompt.User))
	var sb strings.Builder
	switch {
	case strings.Contains(prompt.System, "LABEL: text"):
		sb.WriteString("HOST: Welcome back to the show.\n")
		sb.WriteString(fmt.Sprintf("GUEST: Today we look at activity sample %08x.\n", h.Sum32()))
	case strings.Contains(prompt.System, "single line of plain text"):
		sb.WriteString(fmt.Sprintf("New work shipped this week, sample %08x.", h.Sum32()))
	default:
		sb.WriteString(fmt.Sprintf("# Activity summary %08x\n\n", h.Sum32()))
		sb.WriteString("This is mock output generated from the prompt data.\n")
	}
	return sb.String(), nil
}
