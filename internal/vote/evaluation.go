package vote

import (
	"strconv"
	"strings"
)

// Evaluation points are clamped into this range.
const (
	EvaluationMin = -10000
	EvaluationMax = 10000
)

// emoticonValues maps known emoticons to evaluation points, for voters who
// answer the "how is the position" question without typing a number.
var emoticonValues = map[string]int{
	"(^o^)": 1000,
	"(^_^)": 500,
	"(-_-)": 0,
	"(;_;)": -500,
	"(T_T)": -1000,
}

// ParseEvaluation interprets the remainder of an evaluation command as a
// number or a known emoticon, clamped into [EvaluationMin, EvaluationMax].
func ParseEvaluation(s string) (int, bool) {
	s = trimAllSpace(s)
	if s == "" {
		return 0, false
	}

	if v, ok := emoticonValues[s]; ok {
		return clampEvaluation(v), true
	}

	n, err := strconv.Atoi(toHalfWidth(s))
	if err != nil {
		return 0, false
	}
	return clampEvaluation(n), true
}

func clampEvaluation(v int) int {
	if v < EvaluationMin {
		return EvaluationMin
	}
	if v > EvaluationMax {
		return EvaluationMax
	}
	return v
}

// toHalfWidth normalizes full-width digits and signs so strconv can parse
// chat input typed on a Japanese IME.
func toHalfWidth(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		case r == '－' || r == '−' || r == 'ー':
			return '-'
		case r == '＋':
			return '+'
		default:
			return r
		}
	}, s)
}

// trimAllSpace trims both ASCII and full-width spaces.
func trimAllSpace(s string) string {
	return strings.Trim(s, " \t　")
}
