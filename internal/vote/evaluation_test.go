package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEvaluationNumbers(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"500", 500, true},
		{"-1200", -1200, true},
		{"+300", 300, true},
		{"0", 0, true},
		{"５００", 500, true},
		{"－３００", -300, true},
		{"  500  ", 500, true},
		{"　５００　", 500, true},
		{"", 0, false},
		{"abc", 0, false},
		{"五百", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseEvaluation(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		if ok {
			assert.Equal(t, tt.want, got, "input %q", tt.input)
		}
	}
}

func TestParseEvaluationEmoticons(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"(^o^)", 1000},
		{"(^_^)", 500},
		{"(-_-)", 0},
		{"(;_;)", -500},
		{"(T_T)", -1000},
	}
	for _, tt := range tests {
		got, ok := ParseEvaluation(tt.input)
		assert.True(t, ok, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseEvaluationClamps(t *testing.T) {
	got, ok := ParseEvaluation("99999")
	assert.True(t, ok)
	assert.Equal(t, EvaluationMax, got)

	got, ok = ParseEvaluation("-99999")
	assert.True(t, ok)
	assert.Equal(t, EvaluationMin, got)
}
