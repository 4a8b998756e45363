package depth

import "fmt"

const (
	MinDepth = 1
	MaxDepth = 4
)

// Config 在一次运行开始时由 level 推导，之后只按值传递。
type Config struct {
	Level           int
	DraftCount      int
	NeedsTournament bool
	NeedsPolish     bool
}

// NewConfig validates level and derives the run plan.
func NewConfig(level int) (Config, error) {
	if err := ValidateDepth(level); err != nil {
		return Config{}, err
	}
	return Config{
		Level:           level,
		DraftCount:      DraftCount(level),
		NeedsTournament: NeedsTournament(level),
		NeedsPolish:     NeedsPolish(level),
	}, nil
}

// ValidateDepth rejects anything outside 1..4.
func ValidateDepth(level int) error {
	if level < MinDepth || level > MaxDepth {
		return fmt.Errorf("%w: must be 1, 2, 3, or 4; got %d", ErrInvalidDepth, level)
	}
	return nil
}

// DraftCount is one draft per depth unit. Callers validate first.
func DraftCount(level int) int {
	return level
}

func NeedsTournament(level int) bool {
	return level == 4
}

func NeedsPolish(level int) bool {
	return level >= 2
}
