package generator

import (
	"fmt"
	"math"

	"auto_content_pipeline/depth"
)

// PayloadTrimmer is the context-trimming policy used after a context window
// overflow: long strings and lists in the payload are cut down to Ratio of
// their size. Strings shorter than MinChars are left alone.
type PayloadTrimmer struct {
	Ratio    float64
	MinChars int
}

func (t PayloadTrimmer) Shrink(in depth.Inputs) (depth.Inputs, error) {
	if t.Ratio <= 0 || t.Ratio >= 1 {
		return depth.Inputs{}, fmt.Errorf("trim ratio must be in (0,1), got %v", t.Ratio)
	}
	out := depth.Inputs{SizeHint: in.SizeHint, Payload: map[string]any{}}
	for k, v := range in.Payload {
		out.Payload[k] = t.shrink(v)
	}
	return out, nil
}

func (t PayloadTrimmer) shrink(v any) any {
	switch val := v.(type) {
	case string:
		r := []rune(val)
		if len(r) <= t.MinChars {
			return val
		}
		keep := max(t.MinChars, int(float64(len(r))*t.Ratio))
		return string(r[:keep])
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = t.shrink(item)
		}
		return m
	case []any:
		kept := val[:t.keep(len(val))]
		out := make([]any, len(kept))
		for i, item := range kept {
			out[i] = t.shrink(item)
		}
		return out
	case []map[string]any:
		kept := val[:t.keep(len(val))]
		out := make([]map[string]any, len(kept))
		for i, item := range kept {
			out[i] = t.shrink(item).(map[string]any)
		}
		return out
	case []string:
		kept := val[:t.keep(len(val))]
		out := make([]string, len(kept))
		for i, item := range kept {
			out[i] = t.shrink(item).(string)
		}
		return out
	default:
		return v
	}
}

func (t PayloadTrimmer) keep(n int) int {
	if n == 0 {
		return 0
	}
	return max(1, int(math.Ceil(float64(n)*t.Ratio)))
}
