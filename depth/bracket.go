package depth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Bracket is one pairwise comparison of the depth-4 tournament.
type Bracket struct {
	Left  Draft
	Right Draft
}

// RefereeResult 是裁判输出的解析结果：要么明确胜出（Resolved），要么使用默认胜者（Ambiguous）。
type RefereeResult struct {
	Winner    Draft
	Ambiguous bool
	Reason    string
}

// BuildBrackets pairs drafts 1↔2 and 3↔4 in input order.
func BuildBrackets(drafts []Draft) ([]Bracket, error) {
	if len(drafts) != 4 {
		return nil, fmt.Errorf("%w: got %d", ErrBracketSize, len(drafts))
	}
	return []Bracket{
		{Left: drafts[0], Right: drafts[1]},
		{Left: drafts[2], Right: drafts[3]},
	}, nil
}

var winnerTagRe = regexp.MustCompile(`(?is)<winner>\s*(.*?)\s*</winner>`)

// ParseRefereeWinner resolves the <winner> tag to a bracket member.
// The tag may carry the member label ("Draft 3"), its number ("3") or
// its position ("A" for left, "B" for right). Anything else defaults to
// the left member and is flagged as ambiguous.
func ParseRefereeWinner(response string, b Bracket) RefereeResult {
	m := winnerTagRe.FindStringSubmatch(response)
	if m == nil {
		return RefereeResult{
			Winner:    b.Left,
			Ambiguous: true,
			Reason:    fmt.Sprintf("no <winner> tag in referee output; defaulting to %s", b.Left.Label()),
		}
	}
	raw := strings.TrimSpace(m[1])
	if winner, ok := matchMember(raw, b); ok {
		return RefereeResult{Winner: winner}
	}
	return RefereeResult{
		Winner:    b.Left,
		Ambiguous: true,
		Reason:    fmt.Sprintf("<winner> content %q matches neither %s nor %s; defaulting to %s", raw, b.Left.Label(), b.Right.Label(), b.Left.Label()),
	}
}

func matchMember(raw string, b Bracket) (Draft, bool) {
	norm := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	switch norm {
	case strings.ToLower(b.Left.Label()), "a", "draft a":
		return b.Left, true
	case strings.ToLower(b.Right.Label()), "b", "draft b":
		return b.Right, true
	}
	if n, err := strconv.Atoi(norm); err == nil {
		switch n {
		case b.Left.Index + 1:
			return b.Left, true
		case b.Right.Index + 1:
			return b.Right, true
		}
	}
	return Draft{}, false
}
